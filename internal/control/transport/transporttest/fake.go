// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"bytes"
	"sync"

	"github.com/theaaf/blackmagic-c2/internal/control/transport"
)

// Fake is a Transport driven by the test. Events are delivered synchronously
// on the calling goroutine.
type Fake struct {
	mu       sync.Mutex
	state    transport.State
	listener transport.Listener
	token    int
	sent     bytes.Buffer
	closes   int
}

// New returns a Fake in state Open.
func New() *Fake {
	return &Fake{state: transport.Open}
}

// NewConnecting returns a Fake in state Connecting.
func NewConnecting() *Fake {
	return &Fake{state: transport.Connecting}
}

func (f *Fake) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.Open {
		return transport.ErrNotOpen
	}
	f.sent.Write(p)
	return nil
}

func (f *Fake) Listen(l transport.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token++
	token := f.token
	f.listener = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.token == token {
			f.listener = nil
		}
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closes++
	if f.state.Terminal() {
		f.mu.Unlock()
		return nil
	}
	f.state = transport.Closed
	l := f.listener
	f.mu.Unlock()

	if l != nil {
		l.Closed()
	}
	return nil
}

// SetOpen moves a connecting Fake to Open.
func (f *Fake) SetOpen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == transport.Connecting {
		f.state = transport.Open
	}
}

// Emit delivers p as received data.
func (f *Fake) Emit(p string) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l.Data([]byte(p))
	}
}

// Fail moves the Fake to Errored and tells the listener.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	if f.state.Terminal() {
		f.mu.Unlock()
		return
	}
	f.state = transport.Errored
	l := f.listener
	f.mu.Unlock()

	if l != nil {
		l.Errored(err)
	}
}

// Sent returns everything passed to Send, concatenated.
func (f *Fake) Sent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent.String()
}

func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Listening reports whether a listener is attached.
func (f *Fake) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener != nil
}

var _ transport.Transport = (*Fake)(nil)
