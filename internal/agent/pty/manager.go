package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// Config describes the shell every session runs.
type Config struct {
	Shell string
	Args  []string
	Cols  int
	Rows  int
	Env   map[string]string
}

// DefaultConfig runs an interactive sh at 80x24.
func DefaultConfig() Config {
	return Config{Shell: "sh", Args: []string{"-i"}, Cols: 80, Rows: 24}
}

// OutputFunc receives PTY output in the order it was read. It is called
// from the session's reader goroutine.
type OutputFunc func(sessionID string, p []byte)

// Manager owns the PTY sessions opened on behalf of the hub, keyed by the
// hub's shell id.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	sessions sync.Map // map[string]*Session
}

// NewManager creates a new session manager
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Spawn starts a shell for sessionID and streams its output to out.
func (m *Manager) Spawn(sessionID string, out OutputFunc) (*Session, error) {
	if _, ok := m.sessions.Load(sessionID); ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}

	cmd := exec.Command(m.cfg.Shell, m.cfg.Args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range m.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(m.cfg.Rows),
		Cols: uint16(m.cfg.Cols),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	session := &Session{
		ID:        sessionID,
		Shell:     m.cfg.Shell,
		Cols:      m.cfg.Cols,
		Rows:      m.cfg.Rows,
		StartedAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		done:      make(chan struct{}),
	}
	if _, loaded := m.sessions.LoadOrStore(sessionID, session); loaded {
		cmd.Process.Kill()
		ptmx.Close()
		cmd.Wait()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}

	m.logger.Info("Shell started",
		zap.String("session_id", sessionID),
		zap.String("shell", m.cfg.Shell),
		zap.Int("pid", cmd.Process.Pid))

	go m.readOutput(session, out)

	return session, nil
}

// readOutput forwards PTY output until the shell exits, then reaps it.
func (m *Manager) readOutput(session *Session, out OutputFunc) {
	defer close(session.done)

	buf := make([]byte, 4096)
	for {
		n, err := session.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out(session.ID, chunk)
		}
		if err != nil {
			// Linux reports EIO on the master once the slave side is gone.
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				m.logger.Debug("PTY read ended", zap.String("session_id", session.ID), zap.Error(err))
			}
			break
		}
	}

	session.cmd.Wait()

	session.mu.Lock()
	session.closed = true
	session.mu.Unlock()
	session.ptmx.Close()

	m.sessions.CompareAndDelete(session.ID, session)
	m.logger.Info("Shell exited", zap.String("session_id", session.ID))
}

// Write sends input to a session
func (m *Manager) Write(sessionID string, input []byte) error {
	session, err := m.get(sessionID)
	if err != nil {
		return err
	}

	session.mu.RLock()
	defer session.mu.RUnlock()
	if session.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	_, err = session.ptmx.Write(input)
	return err
}

// Resize changes terminal dimensions
func (m *Manager) Resize(sessionID string, cols, rows int) error {
	session, err := m.get(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	session.Cols = cols
	session.Rows = rows

	return pty.Setsize(session.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Kill terminates a session. Killing an unknown or exited session is a
// no-op.
func (m *Manager) Kill(sessionID string) error {
	value, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return nil
	}
	session := value.(*Session)

	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return nil
	}
	session.closed = true
	if session.cmd.Process != nil {
		session.cmd.Process.Kill()
	}
	session.mu.Unlock()

	// Closing the master unblocks the reader, which reaps the process.
	session.ptmx.Close()
	m.logger.Info("Shell killed", zap.String("session_id", sessionID))
	return nil
}

// KillAll terminates every session.
func (m *Manager) KillAll() {
	m.sessions.Range(func(key, _ interface{}) bool {
		m.Kill(key.(string))
		return true
	})
}

// ListSessions returns all active sessions
func (m *Manager) ListSessions() []SessionInfo {
	var sessions []SessionInfo

	m.sessions.Range(func(_, value interface{}) bool {
		sessions = append(sessions, value.(*Session).info())
		return true
	})

	return sessions
}

// GetSession retrieves session info
func (m *Manager) GetSession(sessionID string) (*SessionInfo, error) {
	session, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	info := session.info()
	return &info, nil
}

func (m *Manager) get(sessionID string) (*Session, error) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return value.(*Session), nil
}

func (s *Session) info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:        s.ID,
		Shell:     s.Shell,
		Cols:      s.Cols,
		Rows:      s.Rows,
		StartedAt: s.StartedAt,
		Active:    !s.closed,
	}
}
