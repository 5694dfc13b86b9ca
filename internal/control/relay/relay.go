package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/protocol"
)

// CommandPath is the hub endpoint commands are posted to.
const CommandPath = "/api/hyperdeck/command"

// Invocation addresses one command to one device through one agent.
type Invocation struct {
	AgentID   string
	IPAddress string
	Command   string
}

// Result is the device's response, exactly as the agent reported it.
type Result struct {
	Code    int
	Text    string
	Payload *string
}

// String renders "<code> <text>", followed by ":\n<payload>" when there is
// a payload.
func (r Result) String() string {
	s := fmt.Sprintf("%d %s", r.Code, r.Text)
	if r.Payload != nil {
		s += ":\n" + *r.Payload
	}
	return s
}

// Error is a failed invocation. Status is the hub's HTTP status, or 0 when
// the hub could not be reached.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the hub gave up waiting for the agent.
func (e *Error) Timeout() bool { return e.Status == http.StatusGatewayTimeout }

// Client posts invocations to the hub. It holds no per-invocation state and
// is safe for concurrent use.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func New(hc *resty.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: hc, logger: logger}
}

// Invoke sends inv once. It does not retry, and concurrent identical
// invocations are all sent.
func (c *Client) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	var (
		body   protocol.CommandResponse
		failed protocol.ErrorResponse
	)
	start := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(protocol.CommandRequest{AgentID: inv.AgentID, IPAddress: inv.IPAddress, Command: inv.Command}).
		SetResult(&body).
		SetError(&failed).
		Post(CommandPath)
	if err != nil {
		c.logger.Warn("Command request failed", zap.String("agent_id", inv.AgentID), zap.Error(err))
		return Result{}, &Error{Message: err.Error(), Err: err}
	}

	if resp.IsError() {
		msg := failed.Error
		if msg == "" {
			msg = resp.Status()
		}
		c.logger.Info("Command rejected",
			zap.String("agent_id", inv.AgentID),
			zap.String("ip", inv.IPAddress),
			zap.Int("status", resp.StatusCode()),
			zap.String("error", msg))
		return Result{}, &Error{Status: resp.StatusCode(), Message: msg}
	}

	c.logger.Debug("Command completed",
		zap.String("agent_id", inv.AgentID),
		zap.String("ip", inv.IPAddress),
		zap.Int("code", body.Code),
		zap.Duration("took", time.Since(start)))
	return Result{Code: body.Code, Text: body.Text, Payload: body.Payload}, nil
}
