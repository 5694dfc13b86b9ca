// Package wspeer runs the read, write and keepalive loops for one gorilla
// websocket. The hub uses it for agent and shell sockets and the agent uses
// it for its hub session, so both ends share one ping and idle policy.
package wspeer
