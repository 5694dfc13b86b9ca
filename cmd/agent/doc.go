// Package main runs an agent: it keeps a websocket open to the hub, serves
// shells on this host, relays HyperDeck commands and reports the devices it
// sees on the LAN. It reconnects until interrupted.
package main
