package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// newListCmd creates the "synapse list" subcommand.
func newListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live registered agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			agents, err := a.reg.ListLive(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(agents)
			}

			if len(agents) == 0 {
				fmt.Fprintln(w, "no live agents")
				return nil
			}

			header := lipgloss.NewStyle().Bold(true)
			dim := lipgloss.NewStyle().Faint(true)
			if !isatty.IsTerminal(os.Stdout.Fd()) {
				header = lipgloss.NewStyle()
				dim = lipgloss.NewStyle()
			}

			fmt.Fprintln(w, header.Render(fmt.Sprintf("%-24s %-10s %-12s %-6s %-8s %s",
				"AGENT", "KIND", "NAME", "PORT", "PID", "LAST SEEN")))
			for _, ep := range agents {
				seen := "never"
				if !ep.LastHeartbeat.IsZero() {
					seen = time.Since(ep.LastHeartbeat).Round(time.Second).String() + " ago"
				}
				fmt.Fprintf(w, "%-24s %-10s %-12s %-6d %-8d %s\n",
					ep.AgentID, ep.Kind, ep.CustomName, ep.Port, ep.PID, dim.Render(seen))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of a table")
	return cmd
}
