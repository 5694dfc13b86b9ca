package hub

import (
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/infrastructure/monitoring"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
	"github.com/theaaf/blackmagic-c2/internal/shared/id"
	"github.com/theaaf/blackmagic-c2/internal/shared/wspeer"
)

// ShellBridge joins an operator's /shell websocket to a shell on an agent.
// Frames from the operator become ShellInput; ShellOutput from the agent is
// written back as binary frames.
type ShellBridge struct {
	id       id.ShellID
	agent    *AgentConn
	peer     *wspeer.Peer
	registry *Registry
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

func (b *ShellBridge) ID() id.ShellID { return b.id }

func (b *ShellBridge) serve() {
	b.registry.PutShell(b)
	b.metrics.ShellsActive.Set(float64(b.registry.ShellCount()))
	b.logger.Info("Shell connection established")

	if err := b.agent.Send(protocol.ShellInit(string(b.id))); err != nil {
		b.logger.Warn("Agent unavailable for shell", zap.Error(err))
		b.close(websocket.CloseInternalServerErr, "agent unavailable")
	}

	b.peer.Run(b.handle)

	b.registry.RemoveShell(b.id)
	b.metrics.ShellsActive.Set(float64(b.registry.ShellCount()))
	b.agent.Send(protocol.ShellClose(string(b.id)))
	b.logger.Info("Shell connection closed")
}

func (b *ShellBridge) handle(typ int, data []byte) {
	if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
		return
	}
	b.metrics.RecordShellBytes("in", len(data))
	if err := b.agent.Send(protocol.ShellInput(string(b.id), data)); err != nil {
		b.logger.Debug("Dropping shell input", zap.Error(err))
	}
}

func (b *ShellBridge) output(p []byte) {
	if err := b.peer.Send(websocket.BinaryMessage, p); err == nil {
		b.metrics.RecordShellBytes("out", len(p))
	}
}

func (b *ShellBridge) close(code int, text string) {
	b.peer.Close(code, text)
}
