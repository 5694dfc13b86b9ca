package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/infrastructure/monitoring"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/tracing"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
	"github.com/theaaf/blackmagic-c2/internal/shared/id"
	"github.com/theaaf/blackmagic-c2/internal/shared/utils"
	"github.com/theaaf/blackmagic-c2/internal/shared/wspeer"
)

type commandResult struct {
	resp protocol.CommandResponse
	err  error
}

// AgentConn is the hub's side of one agent websocket.
type AgentConn struct {
	connID         id.ConnID
	remote         string
	connectedAt    time.Time
	peer           *wspeer.Peer
	registry       *Registry
	metrics        *monitoring.Metrics
	commandTimeout time.Duration
	logger         *zap.Logger

	mu      sync.Mutex
	agentID string
	pending map[string]chan commandResult
}

func (a *AgentConn) ID() id.ConnID { return a.connID }

func (a *AgentConn) Remote() string { return a.remote }

func (a *AgentConn) ConnectedAt() time.Time { return a.connectedAt }

// AgentID is the id the agent reported, empty until its first state.
func (a *AgentConn) AgentID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agentID
}

// serve reads messages until the connection ends, then unregisters the
// agent and fails everything waiting on it.
func (a *AgentConn) serve() {
	a.logger.Info("Agent connection established")
	a.peer.Run(a.handle)

	agentID := a.AgentID()
	if agentID != "" && a.registry.RemoveAgent(agentID, a) {
		a.metrics.AgentsConnected.Set(float64(a.registry.AgentCount()))
	}
	for _, b := range a.registry.ShellsFor(a) {
		b.close(websocket.CloseInternalServerErr, "agent disconnected")
	}
	a.logger.Info("Agent connection closed")
}

// Close drops the connection.
func (a *AgentConn) Close() {
	a.peer.Close(websocket.CloseGoingAway, "")
}

func (a *AgentConn) handle(typ int, data []byte) {
	if typ != websocket.BinaryMessage {
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		a.logger.Error("Error deserializing message", zap.Error(err))
		return
	}
	a.metrics.RecordAgentMessage("in", string(msg.Kind))

	switch msg.Kind {
	case protocol.KindAgentState:
		a.updateState(msg.AgentID, *msg.State)
	case protocol.KindShellOutput:
		if b, ok := a.registry.Shell(id.ShellID(msg.ID)); ok && b.agent == a {
			b.output(msg.Bytes)
		}
	case protocol.KindHyperDeckCommandResponse:
		a.resolve(msg.ID, commandResult{resp: *msg.Response})
	case protocol.KindHyperDeckCommandError:
		a.resolve(msg.ID, commandResult{err: &AgentError{Description: msg.Description}})
	default:
		a.logger.Warn("Unexpected message from agent", zap.String("kind", string(msg.Kind)))
	}
}

func (a *AgentConn) updateState(agentID string, state protocol.AgentState) {
	if err := utils.ValidateAgentID(agentID); err != nil {
		a.logger.Warn("Rejecting agent with invalid id",
			zap.String("reported_id", agentID),
			zap.Error(err))
		a.peer.Close(websocket.ClosePolicyViolation, "invalid agent id")
		return
	}

	a.mu.Lock()
	switch {
	case a.agentID == "":
		a.agentID = agentID
		a.logger.Info("Agent identified", zap.String("agent_id", agentID))
	case a.agentID != agentID:
		a.mu.Unlock()
		a.logger.Warn("Agent changed its id; ignoring state",
			zap.String("agent_id", a.AgentID()),
			zap.String("reported_id", agentID))
		return
	}
	a.mu.Unlock()

	if replaced := a.registry.PutAgent(agentID, state, a); replaced != nil {
		a.logger.Info("Agent reconnected; dropping previous connection",
			zap.String("agent_id", agentID),
			zap.String("previous_conn", string(replaced.ID())))
		replaced.Close()
	}
	a.metrics.AgentsConnected.Set(float64(a.registry.AgentCount()))
}

func (a *AgentConn) resolve(cmdID string, r commandResult) {
	a.mu.Lock()
	ch, ok := a.pending[cmdID]
	delete(a.pending, cmdID)
	a.mu.Unlock()

	if !ok {
		a.logger.Debug("Response for unknown command", zap.String("command_id", cmdID))
		return
	}
	ch <- r
}

// Send encodes and queues msg.
func (a *AgentConn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := a.peer.Send(websocket.BinaryMessage, data); err != nil {
		return err
	}
	a.metrics.RecordAgentMessage("out", string(msg.Kind))
	return nil
}

// HyperDeckCommand asks the agent to send command to the HyperDeck at
// ipAddress and waits for its response. Identical commands are never
// merged: each call is a separate round trip.
func (a *AgentConn) HyperDeckCommand(ctx context.Context, ipAddress, command string) (protocol.CommandResponse, error) {
	cmdID := uuid.NewString()
	ch := make(chan commandResult, 1)

	a.mu.Lock()
	a.pending[cmdID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, cmdID)
		a.mu.Unlock()
	}()

	msg := protocol.HyperDeckCommand(cmdID, ipAddress, command)
	msg.TraceID = string(tracing.GetTraceID(ctx))
	if err := a.Send(msg); err != nil {
		if errors.Is(err, wspeer.ErrClosed) {
			return protocol.CommandResponse{}, ErrAgentDisconnected
		}
		return protocol.CommandResponse{}, err
	}

	timer := time.NewTimer(a.commandTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-a.peer.Done():
		return protocol.CommandResponse{}, ErrAgentDisconnected
	case <-timer.C:
		return protocol.CommandResponse{}, ErrCommandTimeout
	case <-ctx.Done():
		return protocol.CommandResponse{}, ctx.Err()
	}
}
