package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Option configures a WebSocket.
type Option func(*WebSocket)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d Dialer) Option {
	return func(w *WebSocket) { w.dialer = d }
}

// WithHeader sets headers sent with the handshake.
func WithHeader(h http.Header) Option {
	return func(w *WebSocket) { w.header = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *WebSocket) { w.logger = l }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(w *WebSocket) { w.writeTimeout = d }
}

// WithStateObserver registers fn to be called after every state change.
// fn runs on the goroutine that caused the change and must not block.
func WithStateObserver(fn func(State)) Option {
	return func(w *WebSocket) { w.observe = fn }
}

type eventKind int

const (
	eventData eventKind = iota
	eventClosed
	eventErrored
)

type event struct {
	kind eventKind
	data []byte
	err  error
}

func (e event) terminal() bool {
	return e.kind != eventData
}

func (e event) deliver(l Listener) {
	switch e.kind {
	case eventData:
		l.Data(e.data)
	case eventClosed:
		l.Closed()
	case eventErrored:
		l.Errored(e.err)
	}
}

// WebSocket is a Transport over a gorilla websocket. Open returns at once in
// state Connecting; the handshake runs in the background. There is no
// reconnection: once Closed or Errored, the value is spent.
type WebSocket struct {
	url          string
	dialer       Dialer
	header       http.Header
	logger       *zap.Logger
	writeTimeout time.Duration
	observe      func(State)

	mu         sync.Mutex
	state      State
	err        error
	conn       *websocket.Conn
	cancelDial context.CancelFunc

	outbox chan []byte
	done   chan struct{}

	// Listener bookkeeping. Events are queued here and handed to the
	// listener by a single dispatch goroutine.
	lmu          sync.Mutex
	listener     Listener
	listenToken  uint64
	everAttached bool
	events       []event
	wake         chan struct{}
	attached     chan struct{}
	attachOnce   sync.Once
}

// Dial starts connecting to endpoint and returns at once in Connecting.
func Dial(ctx context.Context, endpoint Endpoint, opts ...Option) *WebSocket {
	w := &WebSocket{
		url:          endpoint.URL(),
		dialer:       websocket.DefaultDialer,
		logger:       zap.NewNop(),
		writeTimeout: 10 * time.Second,
		state:        Connecting,
		outbox:       make(chan []byte, 256),
		done:         make(chan struct{}),
		wake:         make(chan struct{}, 1),
		attached:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("url", w.url))

	dialCtx, cancel := context.WithCancel(ctx)
	w.cancelDial = cancel

	go w.dispatch()
	go w.dial(dialCtx)
	return w
}

// URL returns the address being dialed.
func (w *WebSocket) URL() string {
	return w.url
}

// State returns the current state.
func (w *WebSocket) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the error that moved the transport to Errored.
func (w *WebSocket) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Send queues p for the writer goroutine.
func (w *WebSocket) Send(p []byte) error {
	if w.State() != Open {
		return ErrNotOpen
	}
	buf := make([]byte, len(p))
	copy(buf, p)

	select {
	case w.outbox <- buf:
		return nil
	case <-w.done:
		return ErrNotOpen
	}
}

// Listen attaches l.
func (w *WebSocket) Listen(l Listener) (stop func()) {
	w.lmu.Lock()
	w.listenToken++
	token := w.listenToken
	w.listener = l
	w.everAttached = true
	w.lmu.Unlock()

	w.attachOnce.Do(func() { close(w.attached) })
	w.signal()

	return func() {
		w.lmu.Lock()
		if w.listenToken == token {
			w.listener = nil
		}
		w.lmu.Unlock()
		w.signal()
	}
}

// Close ends the session. The listener, if any, receives Closed.
func (w *WebSocket) Close() error {
	w.terminate(Closed, nil)
	return nil
}

func (w *WebSocket) dial(ctx context.Context) {
	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %s)", err, resp.Status)
		}
		w.logger.Warn("Shell transport dial failed", zap.Error(err))
		w.terminate(Errored, fmt.Errorf("dial %s: %w", w.url, err))
		return
	}

	w.mu.Lock()
	if w.state != Connecting {
		w.mu.Unlock()
		conn.Close()
		return
	}
	w.conn = conn
	w.state = Open
	w.mu.Unlock()

	w.logger.Debug("Shell transport open")
	w.notify(Open)

	go w.writeLoop(conn)
	go w.readLoop(conn)
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	// Nothing is read until someone listens, so no output can be lost.
	select {
	case <-w.attached:
	case <-w.done:
		return
	}

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.terminate(Closed, nil)
			} else {
				w.terminate(Errored, err)
			}
			return
		}
		if typ == websocket.BinaryMessage || typ == websocket.TextMessage {
			w.push(event{kind: eventData, data: data})
		}
	}
}

func (w *WebSocket) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case p := <-w.outbox:
			conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
				w.terminate(Errored, err)
				return
			}
		case <-w.done:
			return
		}
	}
}

// terminate moves to a terminal state once; later calls are no-ops.
func (w *WebSocket) terminate(state State, err error) {
	w.mu.Lock()
	if w.state.Terminal() {
		w.mu.Unlock()
		return
	}
	w.state = state
	w.err = err
	conn := w.conn
	w.mu.Unlock()

	w.cancelDial()
	close(w.done)

	if conn != nil {
		if state == Closed {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		conn.Close()
	}

	if state == Errored {
		w.logger.Debug("Shell transport errored", zap.Error(err))
		w.push(event{kind: eventErrored, err: err})
	} else {
		w.logger.Debug("Shell transport closed")
		w.push(event{kind: eventClosed})
	}
	w.notify(state)
}

func (w *WebSocket) notify(state State) {
	if w.observe != nil {
		w.observe(state)
	}
}

func (w *WebSocket) push(ev event) {
	w.lmu.Lock()
	w.events = append(w.events, ev)
	w.lmu.Unlock()
	w.signal()
}

func (w *WebSocket) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued events to the current listener, one at a time.
func (w *WebSocket) dispatch() {
	for {
		w.lmu.Lock()
		for w.listener == nil || len(w.events) == 0 {
			if w.listener == nil && w.abandoned() {
				w.events = nil
				w.lmu.Unlock()
				return
			}
			w.lmu.Unlock()
			<-w.wake
			w.lmu.Lock()
		}
		ev := w.events[0]
		w.events = w.events[1:]
		l := w.listener
		w.lmu.Unlock()

		ev.deliver(l)
		if ev.terminal() {
			return
		}
	}
}

// abandoned reports whether the transport has ended with nobody left to
// tell: either a listener came and went, or the owner closed it before ever
// listening. An early dial error is kept for the first listener.
func (w *WebSocket) abandoned() bool {
	n := len(w.events)
	if n == 0 || !w.events[n-1].terminal() {
		return false
	}
	return w.everAttached || w.events[n-1].kind == eventClosed
}

var _ Transport = (*WebSocket)(nil)
