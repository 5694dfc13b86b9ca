// Package main runs the hub: the agent and shell websockets, the command
// relay API and metrics.
//
// Configuration comes from the environment (see internal/infrastructure/config);
// flags override it.
//
// Usage:
//
//	# Production mode
//	./server -port 8080
//
//	# Development mode (colored logs, debug level) with a local agent
//	./server -dev -agent
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
