package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/agent/pty"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/config"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
	"github.com/theaaf/blackmagic-c2/internal/shared/utils"
	"github.com/theaaf/blackmagic-c2/internal/shared/wspeer"
)

// Config holds everything the agent needs to run.
type Config struct {
	ID             string
	HubURL         string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	IdleTimeout    time.Duration

	Shell pty.Config

	HyperDeckPort    int
	HyperDeckTimeout time.Duration

	ScanEnabled bool
	Scanner     ScannerConfig
}

// ConfigFrom builds an agent config from the environment sections.
func ConfigFrom(a config.AgentConfig, hd config.HyperDeckConfig) Config {
	return Config{
		ID:             a.ID,
		HubURL:         a.HubURL,
		ReconnectDelay: a.ReconnectDelay,
		PingInterval:   a.PingInterval,
		IdleTimeout:    a.IdleTimeout,
		Shell: pty.Config{
			Shell: a.Shell,
			Args:  []string{"-i"},
			Cols:  a.ShellCols,
			Rows:  a.ShellRows,
		},
		HyperDeckPort:    hd.Port,
		HyperDeckTimeout: hd.Timeout,
		ScanEnabled:      a.ScanEnabled,
		Scanner: ScannerConfig{
			Interval:      a.ScanInterval,
			DeviceTimeout: a.DeviceTimeout,
			ProbeInterval: a.ProbeInterval,
			ProcRoot:      a.ProcRoot,
			Sweep:         a.SweepEnabled,
			SweepWindow:   a.SweepWindow,
		},
	}
}

type Option func(*Agent)

func WithScanner(s *Scanner) Option {
	return func(a *Agent) { a.scanner = s }
}

func WithExecutor(e *Executor) Option {
	return func(a *Agent) { a.executor = e }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(a *Agent) { a.dialer = d }
}

// Agent keeps a session open to the hub, serving shells and HyperDeck
// commands, and reports what it sees on the LAN.
type Agent struct {
	cfg      Config
	endpoint string
	shells   *pty.Manager
	executor *Executor
	scanner  *Scanner
	dialer   *websocket.Dialer
	logger   *zap.Logger

	mu    sync.Mutex
	state protocol.AgentState
	peer  *wspeer.Peer
}

// New validates cfg and creates an agent. An empty ID defaults to the host
// name.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if cfg.ID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("agent id not set and hostname unavailable: %w", err)
		}
		cfg.ID = host
	}
	if err := utils.ValidateAgentID(cfg.ID); err != nil {
		return nil, fmt.Errorf("invalid agent id: %w", err)
	}
	endpoint, err := Endpoint(cfg.HubURL)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Second
	}

	logger = logger.With(zap.String("agent_id", cfg.ID))
	a := &Agent{
		cfg:      cfg,
		endpoint: endpoint,
		shells:   pty.NewManager(cfg.Shell, logger.Named("pty")),
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.executor == nil {
		a.executor = NewExecutor(cfg.HyperDeckPort, cfg.HyperDeckTimeout, logger.Named("hyperdeck"))
	}
	if a.scanner == nil && cfg.ScanEnabled {
		a.scanner = NewScanner(cfg.Scanner, cfg.HyperDeckPort, cfg.HyperDeckTimeout, logger.Named("scanner"))
	}
	return a, nil
}

// Endpoint returns the agent websocket URL for a hub base URL. http(s)
// URLs are mapped to ws(s).
func Endpoint(hubURL string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid hub url %q: scheme must be ws, wss, http or https", hubURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid hub url %q: missing host", hubURL)
	}
	return u.JoinPath("agent").String(), nil
}

func (a *Agent) ID() string { return a.cfg.ID }

// State returns the state most recently reported to the hub.
func (a *Agent) State() protocol.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Run connects to the hub and reconnects after ReconnectDelay whenever the
// session ends, until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Agent starting", zap.String("hub", a.endpoint))

	var wg sync.WaitGroup
	defer wg.Wait()
	if a.scanner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scanner.Run(ctx, a.setNetworkDevices)
		}()
	}

	for {
		if err := a.session(ctx); err != nil {
			a.logger.Warn("Hub session failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			a.logger.Info("Agent stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			a.logger.Info("Agent stopped")
			return nil
		case <-time.After(a.cfg.ReconnectDelay):
		}
	}
}

// session runs one hub connection to completion.
func (a *Agent) session(ctx context.Context) error {
	conn, _, err := a.dialer.DialContext(ctx, a.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}
	p := wspeer.New(conn, a.cfg.PingInterval, a.cfg.IdleTimeout, a.logger)

	a.mu.Lock()
	a.peer = p
	state := a.state
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.peer == p {
			a.peer = nil
		}
		a.mu.Unlock()
		a.shells.KillAll()
	}()

	stop := context.AfterFunc(ctx, func() {
		p.Close(websocket.CloseGoingAway, "agent shutting down")
	})
	defer stop()

	a.logger.Info("Connected to hub")
	a.send(p, protocol.AgentStateMessage(a.cfg.ID, state))

	p.Run(func(typ int, data []byte) { a.handle(ctx, p, typ, data) })

	a.logger.Info("Disconnected from hub")
	return nil
}

func (a *Agent) handle(ctx context.Context, p *wspeer.Peer, typ int, data []byte) {
	if typ != websocket.BinaryMessage {
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		a.logger.Error("Error deserializing message", zap.Error(err))
		return
	}

	switch msg.Kind {
	case protocol.KindShellInit:
		_, err := a.shells.Spawn(msg.ID, func(id string, out []byte) {
			a.send(p, protocol.ShellOutput(id, out))
		})
		if err != nil {
			a.logger.Error("Failed to start shell", zap.String("shell_id", msg.ID), zap.Error(err))
		}
	case protocol.KindShellInput:
		if err := a.shells.Write(msg.ID, msg.Bytes); err != nil && !errors.Is(err, pty.ErrSessionNotFound) {
			a.logger.Warn("Failed to write shell input", zap.String("shell_id", msg.ID), zap.Error(err))
		}
	case protocol.KindShellClose:
		a.shells.Kill(msg.ID)
	case protocol.KindHyperDeckCommand:
		go func() {
			a.send(p, a.executor.Execute(ctx, msg.ID, msg.IPAddress, msg.Command))
		}()
	default:
		a.logger.Warn("Unexpected message from hub", zap.String("kind", string(msg.Kind)))
	}
}

func (a *Agent) setNetworkDevices(devices []protocol.NetworkDevice) {
	a.mu.Lock()
	a.state.NetworkDevices = devices
	state := a.state
	p := a.peer
	a.mu.Unlock()

	if p != nil {
		a.send(p, protocol.AgentStateMessage(a.cfg.ID, state))
	}
}

func (a *Agent) send(p *wspeer.Peer, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		a.logger.Error("Error serializing message", zap.String("kind", string(msg.Kind)), zap.Error(err))
		return
	}
	if err := p.Send(websocket.BinaryMessage, data); err != nil && !errors.Is(err, wspeer.ErrClosed) {
		a.logger.Warn("Failed to send message", zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}
