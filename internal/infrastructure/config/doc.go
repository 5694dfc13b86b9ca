// Package config provides 12-factor configuration for the hub, the agent and
// c2ctl.
//
// Configuration is loaded from environment variables with defaults. CLI
// flags override environment variables.
//
// Configuration Sections:
//   - Server: HTTP listen address of the hub
//   - Hub: websocket keepalive and command relay timeouts
//   - Agent: hub URL, shell, LAN scan cadence
//   - HyperDeck: device port and I/O timeout
//   - Console: hub address and TLS for c2ctl
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting of the hub API
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("hub listening on %s\n", cfg.Server.Addr())
package config
