// Command c2ctl is the operator console for the hub: it opens shells on
// agents, lists the devices they see and sends HyperDeck commands.
//
// The hub is addressed by --host, the selected context of the contexts file
// (~/.c2/config or $C2_CONFIG), or C2_HOST, in that order. Logs go to
// C2_LOG_FILE, never to the terminal.
//
// Usage:
//
//	c2ctl agents
//	c2ctl shell studio-a
//	c2ctl devices studio-a
//	c2ctl hyperdeck studio-a 7c:2e:0d:01:02:03 --command "transport info"
package main
