package terminal

import (
	"errors"

	"github.com/theaaf/blackmagic-c2/internal/control/transport"
)

var (
	ErrNotMounted     = errors.New("surface is not mounted")
	ErrAlreadyMounted = errors.New("surface is already mounted")
	ErrAlreadyBound   = errors.New("surface already has a transport")
	ErrNotBound       = errors.New("surface has no transport")
	ErrDisposed       = errors.New("surface is disposed")
)

// Size is the pixel (or cell, for text hosts) area a container offers.
type Size struct {
	Width  int
	Height int
}

// Geometry is a terminal size in character cells.
type Geometry struct {
	Cols int
	Rows int
}

// Metrics converts container sizes to geometry.
type Metrics struct {
	CellWidth  int
	CellHeight int
	PaddingX   int
	PaddingY   int
	MinCols    int
	MinRows    int
}

// DefaultMetrics suits a 15px monospace font.
func DefaultMetrics() Metrics {
	return Metrics{CellWidth: 9, CellHeight: 17, MinCols: 2, MinRows: 1}
}

// CellMetrics is for hosts whose sizes are already counted in cells.
func CellMetrics() Metrics {
	return Metrics{CellWidth: 1, CellHeight: 1, MinCols: 2, MinRows: 1}
}

// Geometry returns the largest geometry that fits in size.
func (m Metrics) Geometry(size Size) Geometry {
	cw, ch := max(m.CellWidth, 1), max(m.CellHeight, 1)
	return Geometry{
		Cols: max((size.Width-2*m.PaddingX)/cw, m.MinCols, 1),
		Rows: max((size.Height-2*m.PaddingY)/ch, m.MinRows, 1),
	}
}

// Container is the host area a surface renders into.
type Container interface {
	Size() Size
	// Invalidate asks the host to redraw. It may be called from any
	// goroutine and must not block.
	Invalidate()
}

// Surface is a terminal emulator bound to at most one transport.
type Surface interface {
	Mount(c Container) error
	BindTransport(t transport.Transport) error
	UnbindTransport()
	// Input sends operator keystrokes to the bound transport.
	Input(p []byte) error
	Fit(size Size) Geometry
	Dispose()
}
