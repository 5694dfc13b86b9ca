// Package terminal renders a remote shell's byte stream.
//
// A Screen is mounted into a Container, bound to one transport, and fitted
// to the container's size. Output is converted so that a bare "\n" also
// returns the carriage. When the transport closes or errors the screen stops
// receiving but keeps everything already shown.
//
//	screen := terminal.NewScreen(terminal.WithMetrics(terminal.CellMetrics()))
//	if err := screen.Mount(container); err != nil {
//		return err
//	}
//	screen.BindTransport(tr)
//	screen.Fit(container.Size())
package terminal
