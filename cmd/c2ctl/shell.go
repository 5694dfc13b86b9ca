package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/control/shell"
	"github.com/theaaf/blackmagic-c2/internal/control/terminal"
	"github.com/theaaf/blackmagic-c2/internal/control/transport"
)

func newShellCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell <agent-id>",
		Short: "Open a shell on an agent (ctrl+] to leave)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newShellModel(cmd.Context(), args[0], root.location(), root.logger.Component("shell"))
			_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			m.controller.Unmount()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return m.err
		},
	}
}

type redrawMsg struct{}

// shellModel hosts a shell controller. It is the controller's View and the
// surface's Container: the container is the window minus the status line.
type shellModel struct {
	ctx        context.Context
	agentID    string
	controller *shell.Controller
	screen     *terminal.Screen
	logger     *zap.Logger
	redraw     chan struct{}

	mu        sync.Mutex
	size      terminal.Size
	listeners map[int]func()
	next      int

	mounted bool
	err     error
}

func newShellModel(ctx context.Context, agentID string, loc shell.Location, logger *zap.Logger) *shellModel {
	m := &shellModel{
		ctx:       ctx,
		agentID:   agentID,
		logger:    logger,
		redraw:    make(chan struct{}, 1),
		listeners: make(map[int]func()),
	}
	m.controller = shell.New(agentID, loc,
		shell.WithLogger(logger),
		shell.WithSurfaceFactory(func() terminal.Surface {
			m.screen = terminal.NewScreen(
				terminal.WithMetrics(terminal.CellMetrics()),
				terminal.WithLogger(logger))
			return m.screen
		}),
		shell.WithStateObserver(func(transport.State) { m.Invalidate() }),
	)
	return m
}

func (m *shellModel) Container() terminal.Container { return m }

func (m *shellModel) OnResize(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *shellModel) Size() terminal.Size {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Invalidate never blocks; redraws coalesce.
func (m *shellModel) Invalidate() {
	select {
	case m.redraw <- struct{}{}:
	default:
	}
}

func (m *shellModel) waitRedraw() tea.Msg {
	select {
	case <-m.redraw:
		return redrawMsg{}
	case <-m.ctx.Done():
		return tea.Quit()
	}
}

func (m *shellModel) Init() tea.Cmd {
	return m.waitRedraw
}

func (m *shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case redrawMsg:
		return m, m.waitRedraw
	case tea.WindowSizeMsg:
		m.resize(terminal.Size{Width: msg.Width, Height: max(msg.Height-1, 1)})
		if !m.mounted {
			if err := m.controller.Mount(m.ctx, m); err != nil {
				m.err = fmt.Errorf("open shell on %s: %w", m.agentID, err)
				return m, tea.Quit
			}
			m.mounted = true
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == leaveKey {
			return m, tea.Quit
		}
		if p := keyBytes(msg); len(p) > 0 {
			if err := m.controller.Input(p); err != nil && !errors.Is(err, transport.ErrNotOpen) {
				m.logger.Warn("Failed to send input", zap.Error(err))
			}
		}
		return m, nil
	}
	return m, nil
}

func (m *shellModel) resize(size terminal.Size) {
	m.mu.Lock()
	m.size = size
	fns := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *shellModel) View() string {
	if m.screen == nil {
		return ""
	}
	size := m.Size()
	lines := m.screen.Viewport()
	if len(lines) > size.Height {
		lines = lines[len(lines)-size.Height:]
	}
	for len(lines) < size.Height {
		lines = append(lines, "")
	}

	state := m.controller.State()
	status := fmt.Sprintf("%s  %s  %s to leave", m.agentID, state, leaveKey)
	style := statusStyle
	if state == transport.Errored || state == transport.Closed {
		style = style.Foreground(errorStyle.GetForeground())
	}
	return strings.Join(lines, "\n") + "\n" + style.Width(size.Width).Render(status)
}
