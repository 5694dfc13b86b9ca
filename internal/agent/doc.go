// Package agent is the process that runs on a capture host. It holds a
// websocket session to the hub and serves what the hub asks for: PTY shells
// and HyperDeck commands. A scanner watches the LAN for Blackmagic devices
// and every change in what it finds is reported to the hub as AgentState.
//
// The session is re-established after ReconnectDelay whenever it drops.
// Shells do not survive a reconnect.
package agent
