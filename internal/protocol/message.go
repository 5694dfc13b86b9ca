package protocol

import (
	"errors"
	"fmt"
)

// Kind names a message variant.
type Kind string

const (
	KindAgentState               Kind = "agent_state"
	KindShellInit                Kind = "shell_init"
	KindShellClose               Kind = "shell_close"
	KindShellInput               Kind = "shell_input"
	KindShellOutput              Kind = "shell_output"
	KindHyperDeckCommand         Kind = "hyperdeck_command"
	KindHyperDeckCommandError    Kind = "hyperdeck_command_error"
	KindHyperDeckCommandResponse Kind = "hyperdeck_command_response"
)

var ErrMalformedMessage = errors.New("malformed message")

// Message is one frame on the hub<->agent websocket. Kind selects which of
// the remaining fields are meaningful:
//
//	agent_state                  AgentID, State            agent -> hub
//	shell_init, shell_close      ID                        hub -> agent
//	shell_input                  ID, Bytes                 hub -> agent
//	shell_output                 ID, Bytes                 agent -> hub
//	hyperdeck_command            ID, IPAddress, Command    hub -> agent
//	hyperdeck_command_error      ID, Description           agent -> hub
//	hyperdeck_command_response   ID, Response              agent -> hub
//
// TraceID rides on hyperdeck_command and ties it to the hub request that
// sent it.
type Message struct {
	Kind        Kind             `cbor:"kind"`
	ID          string           `cbor:"id,omitempty"`
	AgentID     string           `cbor:"agent_id,omitempty"`
	State       *AgentState      `cbor:"state,omitempty"`
	Bytes       []byte           `cbor:"bytes,omitempty"`
	IPAddress   string           `cbor:"ip_address,omitempty"`
	Command     string           `cbor:"command,omitempty"`
	Description string           `cbor:"description,omitempty"`
	Response    *CommandResponse `cbor:"response,omitempty"`
	TraceID     string           `cbor:"trace_id,omitempty"`
}

func AgentStateMessage(agentID string, state AgentState) Message {
	return Message{Kind: KindAgentState, AgentID: agentID, State: &state}
}

func ShellInit(id string) Message {
	return Message{Kind: KindShellInit, ID: id}
}

func ShellClose(id string) Message {
	return Message{Kind: KindShellClose, ID: id}
}

func ShellInput(id string, p []byte) Message {
	return Message{Kind: KindShellInput, ID: id, Bytes: p}
}

func ShellOutput(id string, p []byte) Message {
	return Message{Kind: KindShellOutput, ID: id, Bytes: p}
}

func HyperDeckCommand(id, ipAddress, command string) Message {
	return Message{Kind: KindHyperDeckCommand, ID: id, IPAddress: ipAddress, Command: command}
}

func HyperDeckCommandError(id, description string) Message {
	return Message{Kind: KindHyperDeckCommandError, ID: id, Description: description}
}

func HyperDeckCommandResponse(id string, resp CommandResponse) Message {
	return Message{Kind: KindHyperDeckCommandResponse, ID: id, Response: &resp}
}

// Validate checks that the fields Kind requires are present.
func (m Message) Validate() error {
	switch m.Kind {
	case KindAgentState:
		if m.State == nil {
			return fmt.Errorf("%w: %s without state", ErrMalformedMessage, m.Kind)
		}
	case KindShellInit, KindShellClose, KindShellInput, KindShellOutput,
		KindHyperDeckCommandError:
		if m.ID == "" {
			return fmt.Errorf("%w: %s without id", ErrMalformedMessage, m.Kind)
		}
	case KindHyperDeckCommand:
		if m.ID == "" || m.IPAddress == "" {
			return fmt.Errorf("%w: %s without id or ip address", ErrMalformedMessage, m.Kind)
		}
	case KindHyperDeckCommandResponse:
		if m.ID == "" || m.Response == nil {
			return fmt.Errorf("%w: %s without id or response", ErrMalformedMessage, m.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Kind)
	}
	return nil
}
