package protocol

import "time"

// Shapes of the hub's JSON API.

// AgentInfo is the hub's view of one connected agent.
type AgentInfo struct {
	ID          string     `json:"id"`
	Remote      string     `json:"remote"`
	ConnectedAt time.Time  `json:"connectedAt"`
	State       AgentState `json:"state"`
}

// Device finds a network device by MAC (case-insensitive) or IP address.
func (a AgentInfo) Device(macOrIP string) (NetworkDevice, bool) {
	for _, d := range a.State.NetworkDevices {
		if d.IPAddress == macOrIP || equalFoldMAC(d.MACAddress, macOrIP) {
			return d, true
		}
	}
	return NetworkDevice{}, false
}

// CommandRequest is the body of POST /api/hyperdeck/command.
type CommandRequest struct {
	AgentID   string `json:"agentId" binding:"required"`
	IPAddress string `json:"ipAddress" binding:"required"`
	Command   string `json:"command" binding:"required"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
