// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: coloured console output for humans
//
// The hub and agent log to stdout. c2ctl draws on the terminal, so it logs
// to a file (or nowhere) via ForFile.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Hub listening", zap.String("addr", ":8080"))
//	agentLog := logger.Component("agent").With(zap.String("agent_id", id))
package logging
