package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/infrastructure/config"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/monitoring"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
	"github.com/theaaf/blackmagic-c2/internal/shared/id"
	"github.com/theaaf/blackmagic-c2/internal/shared/wspeer"
)

// Hub accepts agent and shell websockets and relays between them.
type Hub struct {
	cfg      config.HubConfig
	registry *Registry
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// New creates a hub with no connections.
func New(cfg config.HubConfig, metrics *monitoring.Metrics, logger *zap.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	return &Hub{
		cfg:      cfg,
		registry: NewRegistry(),
		metrics:  metrics,
		logger:   logger,
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

// ServeAgent runs an agent connection until it ends.
func (h *Hub) ServeAgent(conn *websocket.Conn, remote string) {
	connID := id.NewConnID()
	logger := h.logger.With(zap.String("conn_id", string(connID)), zap.String("remote", remote))
	a := &AgentConn{
		connID:         connID,
		remote:         remote,
		connectedAt:    time.Now(),
		peer:           wspeer.New(conn, h.cfg.PingInterval, h.cfg.IdleTimeout, logger),
		registry:       h.registry,
		metrics:        h.metrics,
		commandTimeout: h.cfg.CommandTimeout,
		logger:         logger,
		pending:        make(map[string]chan commandResult),
	}
	a.serve()
}

// ServeShell bridges an operator websocket to a new shell on agent until
// either side goes away.
func (h *Hub) ServeShell(conn *websocket.Conn, agent *AgentConn) {
	shellID := id.NewShellID()
	logger := h.logger.With(zap.String("shell_id", string(shellID)), zap.String("agent_id", agent.AgentID()))
	b := &ShellBridge{
		id:       shellID,
		agent:    agent,
		peer:     wspeer.New(conn, h.cfg.PingInterval, h.cfg.IdleTimeout, logger),
		registry: h.registry,
		metrics:  h.metrics,
		logger:   logger,
	}
	b.serve()
}

// Agent returns the live connection for agentID.
func (h *Hub) Agent(agentID string) (protocol.AgentInfo, *AgentConn, bool) {
	return h.registry.Agent(agentID)
}

// Agents lists every connected agent, ordered by id.
func (h *Hub) Agents() []protocol.AgentInfo {
	return h.registry.Agents()
}

// HyperDeckCommand relays one device command through the agent that
// reported agentID.
func (h *Hub) HyperDeckCommand(ctx context.Context, req protocol.CommandRequest) (protocol.CommandResponse, error) {
	_, conn, ok := h.registry.Agent(req.AgentID)
	if !ok {
		return protocol.CommandResponse{}, ErrAgentNotConnected
	}
	return conn.HyperDeckCommand(ctx, req.IPAddress, req.Command)
}

// Close drops every connection.
func (h *Hub) Close() {
	for _, c := range h.registry.Conns() {
		c.Close()
	}
	h.logger.Info("Hub closed")
}
