// Package hyperdeck speaks the HyperDeck Ethernet protocol (TCP 9993).
//
// A response starts with a "<code> <text>" line. When text ends in ':' the
// lines that follow, up to a blank line, are its payload. Codes 5xx are
// asynchronous notifications and may arrive at any time; ReadCommandResponse
// skips them.
//
//	200 ok
//
//	204 device info:
//	protocol version: 1.11
//	model: HyperDeck Studio Mini
//	unique id: 0a1b2c3d
//
// The relay treats commands and responses as opaque. The only command this
// package knows by name is "device info", used by the agent's LAN probe.
package hyperdeck
