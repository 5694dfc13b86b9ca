package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/control/terminal"
	"github.com/theaaf/blackmagic-c2/internal/control/transport"
)

var ErrAlreadyMounted = errors.New("shell view is already mounted")

// View is the host area a shell is shown in.
type View interface {
	Container() terminal.Container
	// OnResize registers fn to run whenever the container changes size.
	OnResize(fn func()) (remove func())
}

// Location is where the console was reached, used to address the hub.
type Location struct {
	Secure  bool
	Host    string
	APIHost string
}

// Endpoint returns the shell endpoint for agentID.
func (l Location) Endpoint(agentID string) transport.Endpoint {
	return transport.Endpoint{
		AgentID: agentID,
		Secure:  l.Secure,
		Host:    l.Host,
		APIHost: l.APIHost,
	}
}

// SurfaceFactory creates the surface for one mount.
type SurfaceFactory func() terminal.Surface

// TransportFactory opens the transport for one mount.
type TransportFactory func(ctx context.Context, endpoint transport.Endpoint) transport.Transport

type Option func(*Controller)

func WithSurfaceFactory(f SurfaceFactory) Option {
	return func(c *Controller) { c.newSurface = f }
}

func WithTransportFactory(f TransportFactory) Option {
	return func(c *Controller) { c.openTransport = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithStateObserver is passed to the default websocket transport.
func WithStateObserver(fn func(transport.State)) Option {
	return func(c *Controller) { c.observe = fn }
}

// Controller owns the surface and transport of one mounted shell view.
type Controller struct {
	agentID       string
	endpoint      transport.Endpoint
	newSurface    SurfaceFactory
	openTransport TransportFactory
	observe       func(transport.State)
	logger        *zap.Logger

	mu           sync.Mutex
	surface      terminal.Surface
	transport    transport.Transport
	container    terminal.Container
	removeResize func()
}

// New creates an unmounted controller for agentID.
func New(agentID string, loc Location, opts ...Option) *Controller {
	c := &Controller{
		agentID:  agentID,
		endpoint: loc.Endpoint(agentID),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("agent_id", agentID))
	if c.newSurface == nil {
		c.newSurface = func() terminal.Surface {
			return terminal.NewScreen(terminal.WithLogger(c.logger))
		}
	}
	if c.openTransport == nil {
		c.openTransport = c.dial
	}
	return c
}

func (c *Controller) dial(ctx context.Context, endpoint transport.Endpoint) transport.Transport {
	opts := []transport.Option{transport.WithLogger(c.logger)}
	if c.observe != nil {
		opts = append(opts, transport.WithStateObserver(c.observe))
	}
	return transport.Dial(ctx, endpoint, opts...)
}

// Mount creates the surface, opens the transport and binds the two.
func (c *Controller) Mount(ctx context.Context, view View) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.surface != nil {
		return ErrAlreadyMounted
	}

	container := view.Container()
	surface := c.newSurface()
	if err := surface.Mount(container); err != nil {
		return fmt.Errorf("mount surface: %w", err)
	}

	tr := c.openTransport(ctx, c.endpoint)
	if err := surface.BindTransport(tr); err != nil {
		surface.Dispose()
		tr.Close()
		return fmt.Errorf("bind transport: %w", err)
	}
	g := surface.Fit(container.Size())

	c.surface = surface
	c.transport = tr
	c.container = container
	c.removeResize = view.OnResize(c.resize)

	c.logger.Info("Shell mounted",
		zap.String("url", c.endpoint.URL()),
		zap.Int("cols", g.Cols),
		zap.Int("rows", g.Rows))
	return nil
}

func (c *Controller) resize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return
	}
	c.surface.Fit(c.container.Size())
}

// Unmount removes the resize listener, disposes the surface and closes the
// transport. It is safe to call more than once.
func (c *Controller) Unmount() {
	c.mu.Lock()
	remove, surface, tr := c.removeResize, c.surface, c.transport
	c.removeResize, c.surface, c.transport, c.container = nil, nil, nil, nil
	c.mu.Unlock()

	if surface == nil {
		return
	}
	if remove != nil {
		remove()
	}
	surface.Dispose()
	tr.Close()
	c.logger.Info("Shell unmounted")
}

// Mounted reports whether a view is mounted.
func (c *Controller) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface != nil
}

// State returns the transport state. An unmounted controller is Closed.
func (c *Controller) State() transport.State {
	c.mu.Lock()
	tr := c.transport
	c.mu.Unlock()
	if tr == nil {
		return transport.Closed
	}
	return tr.State()
}

// Input forwards operator keystrokes to the shell.
func (c *Controller) Input(p []byte) error {
	c.mu.Lock()
	surface := c.surface
	c.mu.Unlock()
	if surface == nil {
		return transport.ErrNotOpen
	}
	return surface.Input(p)
}

func (c *Controller) AgentID() string { return c.agentID }

func (c *Controller) Endpoint() transport.Endpoint { return c.endpoint }
