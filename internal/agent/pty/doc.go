// Package pty runs interactive shells under pseudo-terminals for the agent.
//
// Each session is keyed by the hub's shell id. Output is pushed to a
// callback as it is read; nothing is buffered. A session ends when its shell
// exits or it is killed.
package pty
