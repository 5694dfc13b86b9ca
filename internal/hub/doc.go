// Package hub is the server agents connect to. It keeps the registry of
// connected agents, bridges operator shell websockets to PTYs on agents, and
// relays HyperDeck commands to devices through the agent that can reach
// them.
//
// Every websocket is pumped by a peer: one reader, one writer goroutine, and
// a keepalive that pings and drops the connection once it has been silent
// longer than the idle timeout.
package hub
