package hub

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/infrastructure/monitoring"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/tracing"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
	"github.com/theaaf/blackmagic-c2/internal/shared/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Consoles and agents connect from anywhere on the studio network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handlers serves the hub's HTTP and websocket endpoints.
type Handlers struct {
	hub     *Hub
	tracer  *tracing.Tracer
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

func NewHandlers(h *Hub, tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	return &Handlers{hub: h, tracer: tracer, metrics: metrics, logger: logger}
}

// Health reports liveness and connection counts.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"agents": h.hub.registry.AgentCount(),
		"shells": h.hub.registry.ShellCount(),
	})
}

// ListAgents returns every connected agent.
func (h *Handlers) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Agents())
}

// GetAgent returns one connected agent.
func (h *Handlers) GetAgent(c *gin.Context) {
	info, _, ok := h.hub.Agent(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, protocol.ErrorResponse{Error: msgAgentNotConnected})
		return
	}
	c.JSON(http.StatusOK, info)
}

// HyperDeckCommand relays one command to a device behind an agent.
func (h *Handlers) HyperDeckCommand(c *gin.Context) {
	var req protocol.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorResponse{Error: "Invalid command request: " + err.Error()})
		return
	}
	if err := utils.ValidateCommand(req.Command); err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorResponse{Error: "Invalid command request: " + err.Error()})
		return
	}

	span, ctx := h.tracer.StartSpan(c.Request.Context(), "hyperdeck.command")
	defer func() {
		span.Finish()
		h.tracer.Submit(span)
	}()
	span.SetTag("agent_id", req.AgentID)
	span.SetTag("ip_address", req.IPAddress)

	timer := monitoring.NewTimer(h.metrics)
	resp, err := h.hub.HyperDeckCommand(ctx, req)
	if err != nil {
		status, outcome, msg := commandFailure(err)
		timer.Stop(outcome)
		span.SetStatus(status)
		span.SetError(err)
		h.logger.Warn("HyperDeck command failed",
			zap.String("agent_id", req.AgentID),
			zap.String("ip_address", req.IPAddress),
			zap.String("trace_id", string(span.TraceID)),
			zap.Error(err))
		c.JSON(status, protocol.ErrorResponse{Error: msg})
		return
	}
	timer.Stop("ok")
	span.SetStatus(http.StatusOK)
	c.JSON(http.StatusOK, resp)
}

// commandFailure maps a relay error to its HTTP status, metric outcome and
// operator message.
func commandFailure(err error) (status int, outcome, msg string) {
	var agentErr *AgentError
	switch {
	case errors.Is(err, ErrAgentNotConnected):
		return http.StatusNotFound, "not_connected", msgAgentNotConnected
	case errors.Is(err, ErrAgentDisconnected):
		return http.StatusBadGateway, "disconnected", msgAgentDisconnected
	case errors.Is(err, ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", msgCommandTimeout
	case errors.As(err, &agentErr):
		return http.StatusBadGateway, "agent_error", agentErr.Description
	default:
		return http.StatusBadGateway, "error", err.Error()
	}
}

// AgentSocket accepts an agent's websocket.
func (h *Handlers) AgentSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Agent websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.ServeAgent(conn, c.ClientIP())
}

// ShellSocket bridges an operator's websocket to a shell on ?agent=<id>.
func (h *Handlers) ShellSocket(c *gin.Context) {
	_, agent, ok := h.hub.Agent(c.Query("agent"))
	if !ok {
		c.JSON(http.StatusBadRequest, protocol.ErrorResponse{Error: msgAgentNotConnected})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Shell websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.ServeShell(conn, agent)
}
