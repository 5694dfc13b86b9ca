package protocol

import "strings"

// BlackmagicOUI is the MAC prefix assigned to Blackmagic Design. Only
// devices under it are probed for HyperDeck details.
const BlackmagicOUI = "7c:2e:0d"

// AgentState is everything an agent reports about its host.
type AgentState struct {
	NetworkDevices  []NetworkDevice  `json:"networkDevices" cbor:"network_devices"`
	DeckLinkDevices []DeckLinkDevice `json:"deckLinkDevices" cbor:"decklink_devices"`
}

// NetworkDevice is a host seen on the agent's LAN. MACAddress is unique
// within one agent's state.
type NetworkDevice struct {
	IPAddress  string                `json:"ipAddress" cbor:"ip_address"`
	MACAddress string                `json:"macAddress" cbor:"mac_address"`
	Details    *NetworkDeviceDetails `json:"details,omitempty" cbor:"details,omitempty"`
}

// NetworkDeviceDetails is a tagged union of what a probe learned about a
// device. Exactly one member is set.
type NetworkDeviceDetails struct {
	HyperDeck *HyperDeckDetails `json:"hyperDeck,omitempty" cbor:"hyperdeck,omitempty"`
}

// HyperDeckDetails identifies a device that speaks the HyperDeck protocol.
type HyperDeckDetails struct {
	ModelName       string `json:"modelName" cbor:"model_name"`
	ProtocolVersion string `json:"protocolVersion" cbor:"protocol_version"`
	UniqueID        string `json:"uniqueId" cbor:"unique_id"`
}

// Commandable reports whether the device accepts HyperDeck commands.
func (d NetworkDevice) Commandable() bool {
	return d.Details != nil && d.Details.HyperDeck != nil
}

// IsBlackmagic reports whether the device's MAC carries the Blackmagic OUI.
func (d NetworkDevice) IsBlackmagic() bool {
	return strings.HasPrefix(strings.ToLower(d.MACAddress), BlackmagicOUI)
}

func equalFoldMAC(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// DeckLinkDevice describes a capture/playback card on the agent host.
type DeckLinkDevice struct {
	ModelName   string       `json:"modelName" cbor:"model_name"`
	DisplayName string       `json:"displayName" cbor:"display_name"`
	Busy        DeckLinkBusy `json:"busy" cbor:"busy"`
}

// DeckLinkBusy flags which parts of a card are in use.
type DeckLinkBusy struct {
	Capture    bool `json:"capture" cbor:"capture"`
	Playback   bool `json:"playback" cbor:"playback"`
	SerialPort bool `json:"serialPort" cbor:"serial_port"`
}

// CommandResponse is a HyperDeck response relayed verbatim. Payload is nil
// when the device sent none.
type CommandResponse struct {
	Code    int     `json:"code" cbor:"code"`
	Text    string  `json:"text" cbor:"text"`
	Payload *string `json:"payload,omitempty" cbor:"payload,omitempty"`
}
