package terminal

import (
	"strings"
	"sync"

	"github.com/vito/midterm"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/control/transport"
)

// DefaultScrollback is the number of received bytes kept for reflow.
const DefaultScrollback = 1 << 20

// Option configures a Screen.
type Option func(*Screen)

func WithMetrics(m Metrics) Option {
	return func(s *Screen) { s.metrics = m }
}

// WithScrollback bounds the receive history, in bytes.
func WithScrollback(n int) Option {
	return func(s *Screen) { s.scrollback = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Screen) { s.logger = l }
}

// Screen is a Surface backed by two midterm emulators: one of the fitted
// geometry for the live view, and one that grows downward and keeps every
// line for scrollback. Both are rebuilt from the receive history on resize.
type Screen struct {
	metrics    Metrics
	scrollback int
	logger     *zap.Logger

	mu        sync.Mutex
	container Container
	disposed  bool
	geometry  Geometry
	vt        *midterm.Terminal
	sb        *midterm.Terminal
	history   *History
	sbWritten int
	prev      byte

	bound      transport.Transport
	binding    *binding
	stopListen func()
	ended      bool
}

// NewScreen creates an unmounted screen.
func NewScreen(opts ...Option) *Screen {
	s := &Screen{
		metrics:    DefaultMetrics(),
		scrollback: DefaultScrollback,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.history = NewHistory(s.scrollback)
	return s
}

// Mount attaches the screen to c and sizes it to c.
func (s *Screen) Mount(c Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	if s.container != nil {
		return ErrAlreadyMounted
	}
	s.container = c
	s.geometry = s.metrics.Geometry(c.Size())
	s.rebuild()
	return nil
}

// BindTransport routes t's output into the screen and Input to t.
func (s *Screen) BindTransport(t transport.Transport) error {
	s.mu.Lock()
	switch {
	case s.disposed:
		s.mu.Unlock()
		return ErrDisposed
	case s.container == nil:
		s.mu.Unlock()
		return ErrNotMounted
	case s.bound != nil:
		s.mu.Unlock()
		return ErrAlreadyBound
	}
	b := &binding{s: s}
	s.binding = b
	s.bound = t
	s.ended = false
	s.mu.Unlock()

	stop := t.Listen(b)

	s.mu.Lock()
	if s.binding != b {
		s.mu.Unlock()
		stop()
		return nil
	}
	s.stopListen = stop
	s.mu.Unlock()
	return nil
}

// UnbindTransport detaches the current transport without closing it.
func (s *Screen) UnbindTransport() {
	s.mu.Lock()
	stop := s.unbindLocked()
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *Screen) unbindLocked() func() {
	stop := s.stopListen
	s.binding = nil
	s.bound = nil
	s.stopListen = nil
	return stop
}

// Input sends p to the bound transport.
func (s *Screen) Input(p []byte) error {
	s.mu.Lock()
	t := s.bound
	s.mu.Unlock()
	if t == nil {
		return ErrNotBound
	}
	return t.Send(p)
}

// Fit resizes the screen to size and reflows the received output.
func (s *Screen) Fit(size Size) Geometry {
	s.mu.Lock()
	g := s.metrics.Geometry(size)
	if g == s.geometry && s.vt != nil {
		s.mu.Unlock()
		return g
	}
	s.geometry = g
	c := s.container
	if c != nil && !s.disposed {
		s.rebuild()
	}
	s.mu.Unlock()

	if c != nil {
		c.Invalidate()
	}
	return g
}

// Dispose detaches the transport and the container. Received output stays
// readable.
func (s *Screen) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	stop := s.unbindLocked()
	s.container = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (s *Screen) Geometry() Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry
}

// Lines returns every line received, oldest first.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sb == nil {
		return nil
	}
	return trimRows(s.sb.Content)
}

// Viewport returns the visible rows.
func (s *Screen) Viewport() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vt == nil {
		return nil
	}
	return trimRows(s.vt.Content)
}

// Receiving reports whether output from a bound transport is still flowing.
func (s *Screen) Receiving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding != nil && !s.ended && !s.disposed
}

func (s *Screen) receive(b *binding, p []byte) {
	s.mu.Lock()
	if s.binding != b || s.ended || s.disposed {
		s.mu.Unlock()
		return
	}
	s.write(convertEOL(&s.prev, p))
	c := s.container
	s.mu.Unlock()

	if c != nil {
		c.Invalidate()
	}
}

func (s *Screen) end(b *binding, state transport.State, err error) {
	s.mu.Lock()
	if s.binding != b || s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	c := s.container
	s.mu.Unlock()

	s.logger.Debug("Terminal stopped receiving", zap.Stringer("state", state), zap.Error(err))
	if c != nil {
		c.Invalidate()
	}
}

func (s *Screen) write(p []byte) {
	s.history.Write(p)
	s.vt.Write(p)
	s.sb.Write(p)

	// The scrollback emulator only grows; start it over from history once
	// it holds more than history does.
	s.sbWritten += len(p)
	if s.sbWritten > s.history.Cap() {
		data := s.history.Replay()
		s.sb = s.newScrollback()
		s.sbWritten = len(data)
		s.sb.Write(data)
	}
}

func (s *Screen) rebuild() {
	data := s.history.Replay()

	vt := midterm.NewTerminal(s.geometry.Rows, s.geometry.Cols)
	vt.Write(data)
	// Replies to device status queries go back to the shell, but only for
	// live output, not replays.
	vt.ForwardResponses = responder{s}
	s.vt = vt

	s.sb = s.newScrollback()
	s.sb.Write(data)
	s.sbWritten = len(data)
}

func (s *Screen) newScrollback() *midterm.Terminal {
	sb := midterm.NewTerminal(s.geometry.Rows, s.geometry.Cols)
	sb.AutoResizeY = true
	sb.AppendOnly = true
	return sb
}

// convertEOL turns bare "\n" into "\r\n". prev carries the last byte across
// chunks so a "\r\n" split over two chunks is left alone.
func convertEOL(prev *byte, p []byte) []byte {
	out := make([]byte, 0, len(p)+8)
	for _, c := range p {
		if c == '\n' && *prev != '\r' {
			out = append(out, '\r')
		}
		out = append(out, c)
		*prev = c
	}
	return out
}

func trimRows(content [][]rune) []string {
	out := make([]string, 0, len(content))
	for _, row := range content {
		out = append(out, strings.TrimRight(string(row), " \x00"))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// binding is the listener for one BindTransport call. Callbacks from a
// binding that has since been replaced are ignored.
type binding struct {
	s *Screen
}

func (b *binding) Data(p []byte) { b.s.receive(b, p) }

func (b *binding) Closed() { b.s.end(b, transport.Closed, nil) }

func (b *binding) Errored(err error) { b.s.end(b, transport.Errored, err) }

// responder is called by the emulator with s.mu held.
type responder struct {
	s *Screen
}

func (r responder) Write(p []byte) (int, error) {
	if t := r.s.bound; t != nil && !r.s.ended {
		t.Send(p)
	}
	return len(p), nil
}

var _ Surface = (*Screen)(nil)
