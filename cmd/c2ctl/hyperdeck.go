package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/theaaf/blackmagic-c2/internal/control/fleet"
	"github.com/theaaf/blackmagic-c2/internal/control/relay"
	"github.com/theaaf/blackmagic-c2/internal/control/viewstate"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
)

func newHyperDeckCmd(root *rootOptions) *cobra.Command {
	var command string
	cmd := &cobra.Command{
		Use:   "hyperdeck <agent-id> <mac-or-ip>",
		Short: "Send HyperDeck commands to a device an agent sees",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID, target := args[0], args[1]
			agent, err := fleet.New(root.reader()).Agent(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			device, ok := agent.Device(target)
			if !ok {
				return fmt.Errorf("agent %s does not see a device %s", agentID, target)
			}
			if !fleet.Commandable(device) {
				return fmt.Errorf("device %s is not a HyperDeck that accepts commands", target)
			}

			client := relay.New(root.api(), root.logger.Component("relay"))
			if cmd.Flags().Changed("command") {
				res, err := client.Invoke(cmd.Context(), relay.Invocation{
					AgentID:   agentID,
					IPAddress: device.IPAddress,
					Command:   command,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.String())
				return nil
			}

			m := newDialogModel(cmd.Context(), client, agentID, device)
			_, err = tea.NewProgram(m, tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&command, "command", "c", "", "send one command, print the response and exit")
	return cmd
}

type completedMsg struct {
	ticket viewstate.Ticket
	result relay.Result
	err    error
}

// dialogModel is the interactive command dialog. Every Enter sends a new
// invocation; the display follows whichever completes last.
type dialogModel struct {
	ctx     context.Context
	client  *relay.Client
	agentID string
	dialog  *viewstate.CommandDialog
	input   textinput.Model
}

func newDialogModel(ctx context.Context, client *relay.Client, agentID string, device protocol.NetworkDevice) *dialogModel {
	input := textinput.New()
	input.Placeholder = "transport info"
	input.Prompt = "> "
	input.Focus()

	dialog := &viewstate.CommandDialog{}
	dialog.Open(device)
	return &dialogModel{
		ctx:     ctx,
		client:  client,
		agentID: agentID,
		dialog:  dialog,
		input:   input,
	}
}

func (m *dialogModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *dialogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			m.dialog.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		}
	case completedMsg:
		m.dialog.Complete(msg.ticket, msg.result, msg.err)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.dialog.SetInput(m.input.Value())
	return m, cmd
}

func (m *dialogModel) submit() tea.Cmd {
	inv := relay.Invocation{
		AgentID:   m.agentID,
		IPAddress: m.dialog.Device().IPAddress,
		Command:   m.dialog.Input(),
	}
	ticket := m.dialog.Begin()
	return func() tea.Msg {
		res, err := m.client.Invoke(m.ctx, inv)
		return completedMsg{ticket: ticket, result: res, err: err}
	}
}

func (m *dialogModel) View() string {
	device := m.dialog.Device()
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s  %s  %s", m.agentID, device.IPAddress, fleet.Describe(device))))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	out := m.dialog.Render()
	switch {
	case strings.HasPrefix(out, "Error: "):
		b.WriteString(errorStyle.Render(out))
	case out == "Loading...":
		b.WriteString(dimStyle.Render(out))
	default:
		b.WriteString(out)
	}
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("enter to send, esc to close"))
	b.WriteString("\n")
	return b.String()
}
