package hub

import (
	"errors"
	"fmt"
)

var (
	ErrAgentNotConnected = errors.New("agent not connected")
	ErrAgentDisconnected = errors.New("agent disconnected")
	ErrCommandTimeout    = errors.New("command timed out")
)

// AgentError is a failure reported by the agent, such as an unreachable
// device.
type AgentError struct {
	Description string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent: %s", e.Description)
}

// Messages shown to operators.
const (
	msgAgentNotConnected = "The agent with that id is not connected."
	msgAgentDisconnected = "The agent with that id has disconnected."
	msgCommandTimeout    = "Timed out sending command to agent."
)
