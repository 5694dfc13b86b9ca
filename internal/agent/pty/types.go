package pty

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	ErrSessionExists   = errors.New("pty session already exists")
	ErrSessionNotFound = errors.New("pty session not found")
	ErrSessionClosed   = errors.New("pty session is closed")
)

// Session is one shell process attached to a PTY.
type Session struct {
	ID        string
	Shell     string
	Cols      int
	Rows      int
	StartedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Done is closed once the shell has exited and its output is drained.
func (s *Session) Done() <-chan struct{} { return s.done }

// SessionInfo is a snapshot of a session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Shell     string    `json:"shell"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	StartedAt time.Time `json:"started_at"`
	Active    bool      `json:"active"`
}
