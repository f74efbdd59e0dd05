package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/eventlog"
)

// newLogsCmd creates the "synapse logs" subcommand.
func newLogsCmd() *cobra.Command {
	var (
		taskID    string
		agentID   string
		eventType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show routing events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.events.Query(cmd.Context(), eventlog.QueryOpts{
				TaskID:  taskID,
				AgentID: agentID,
				Type:    eventType,
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, ev := range events {
				line := fmt.Sprintf("%s  %-20s  %s", ev.CreatedAt.Format("15:04:05.000"), ev.Type, ev.Source)
				if ev.TaskID != "" {
					line += "  task=" + ev.TaskID
				}
				if ev.AgentID != "" && ev.AgentID != ev.Source {
					line += "  agent=" + ev.AgentID
				}
				if ev.Payload != "" {
					line += "  " + ev.Payload
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "filter by task id")
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to show")
	return cmd
}
