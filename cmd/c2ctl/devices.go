package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/theaaf/blackmagic-c2/internal/control/fleet"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
)

func newAgentsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List connected agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agents, err := fleet.New(root.reader()).Agents(cmd.Context())
			if err != nil {
				return err
			}
			printAgents(cmd.OutOrStdout(), agents)
			return nil
		},
	}
}

func newDevicesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices <agent-id>",
		Short: "List the network devices an agent sees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := fleet.New(root.reader()).Agent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printDevices(cmd.OutOrStdout(), agent.State.NetworkDevices)
			return nil
		},
	}
}

func printAgents(out io.Writer, agents []protocol.AgentInfo) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREMOTE\tCONNECTED\tDEVICES")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			a.ID, a.Remote, a.ConnectedAt.Local().Format(time.DateTime), len(a.State.NetworkDevices))
	}
	tw.Flush()
}

func printDevices(out io.Writer, devices []protocol.NetworkDevice) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MAC\tIP\tMODEL\tCOMMANDABLE")
	// Only the last column is styled so escape codes do not skew alignment.
	for _, d := range devices {
		model := fleet.Describe(d)
		if model == "" {
			model = "-"
		}
		commandable := dimStyle.Render("no")
		if fleet.Commandable(d) {
			commandable = okStyle.Render("yes")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.MACAddress, d.IPAddress, model, commandable)
	}
	tw.Flush()
}
