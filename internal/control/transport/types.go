package transport

import (
	"errors"
	"net/url"
)

// ErrNotOpen is returned by Send unless the transport is Open.
var ErrNotOpen = errors.New("transport is not open")

// State is the lifecycle of a transport. Closed and Errored are terminal.
type State int

const (
	Connecting State = iota
	Open
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Closed || s == Errored
}

// Endpoint addresses the hub's shell bridge for one agent.
type Endpoint struct {
	AgentID string
	// Secure selects wss. Set it when the console itself was reached over TLS.
	Secure bool
	// Host is the host[:port] the console was reached at.
	Host string
	// APIHost, when set, replaces Host.
	APIHost string
}

// URL returns ws(s)://<APIHost or Host>/shell?agent=<AgentID>.
func (e Endpoint) URL() string {
	scheme := "ws"
	if e.Secure {
		scheme = "wss"
	}
	host := e.Host
	if e.APIHost != "" {
		host = e.APIHost
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/shell",
		RawQuery: url.Values{"agent": {e.AgentID}}.Encode(),
	}
	return u.String()
}

// Listener receives transport events. Calls are serialized and arrive in
// the order the events happened. Closed or Errored is always the last call.
type Listener interface {
	Data(p []byte)
	Closed()
	Errored(err error)
}

// Transport is a bidirectional byte stream to a remote shell.
type Transport interface {
	State() State
	// Send queues p for delivery. It returns ErrNotOpen unless State is Open.
	Send(p []byte) error
	// Listen attaches l, replacing any previous listener. Events that
	// happened while nobody was listening are delivered to l first. The
	// returned func detaches l.
	Listen(l Listener) (stop func())
	// Close is idempotent.
	Close() error
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnData    func(p []byte)
	OnClosed  func()
	OnErrored func(err error)
}

func (f ListenerFuncs) Data(p []byte) {
	if f.OnData != nil {
		f.OnData(p)
	}
}

func (f ListenerFuncs) Closed() {
	if f.OnClosed != nil {
		f.OnClosed()
	}
}

func (f ListenerFuncs) Errored(err error) {
	if f.OnErrored != nil {
		f.OnErrored(err)
	}
}
