package agent

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/hyperdeck"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
	"github.com/theaaf/blackmagic-c2/internal/shared/utils"
)

// CommandFunc runs one command against the HyperDeck at ip.
type CommandFunc func(ctx context.Context, ip string, port int, timeout time.Duration, command string) (hyperdeck.Response, error)

// Executor answers HyperDeckCommand messages relayed by the hub.
type Executor struct {
	port    int
	timeout time.Duration
	command CommandFunc
	logger  *zap.Logger
}

func NewExecutor(port int, timeout time.Duration, logger *zap.Logger) *Executor {
	if port <= 0 {
		port = hyperdeck.DefaultPort
	}
	return &Executor{
		port:    port,
		timeout: timeout,
		command: hyperdeck.Command,
		logger:  logger,
	}
}

// WithCommandFunc replaces the network call, for tests.
func (e *Executor) WithCommandFunc(fn CommandFunc) *Executor {
	e.command = fn
	return e
}

// Execute runs command on the device at ipAddress and returns the reply
// for the hub: a response, or an error describing why there is none.
func (e *Executor) Execute(ctx context.Context, id, ipAddress, command string) protocol.Message {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return protocol.HyperDeckCommandError(id, fmt.Sprintf("invalid IP address syntax: %q", ipAddress))
	}
	if err := utils.ValidateCommand(command); err != nil {
		return protocol.HyperDeckCommandError(id, err.Error())
	}

	start := time.Now()
	resp, err := e.command(ctx, ip.String(), e.port, e.timeout, command)
	if err != nil {
		e.logger.Info("HyperDeck command failed",
			zap.String("command_id", id),
			zap.String("ip_address", ipAddress),
			zap.Error(err))
		return protocol.HyperDeckCommandError(id, err.Error())
	}

	e.logger.Debug("HyperDeck command completed",
		zap.String("command_id", id),
		zap.String("ip_address", ipAddress),
		zap.Int("code", resp.Code),
		zap.Duration("duration", time.Since(start)))
	return protocol.HyperDeckCommandResponse(id, protocol.CommandResponse{
		Code:    resp.Code,
		Text:    resp.Text,
		Payload: resp.Payload,
	})
}
