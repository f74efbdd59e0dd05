package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// newCancelCmd creates the "synapse cancel" subcommand.
func newCancelCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a non-terminal task",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			if err := a.tasks.MarkTerminal(cmd.Context(), id, protocol.TaskCanceled, "", reason); err != nil {
				return err
			}
			_ = a.events.Record(cmd.Context(), "canceled", "cli", id, "", "")
			fmt.Fprintf(cmd.OutOrStdout(), "task %s canceled\n", id)
			return nil
		},
		Args: cobra.ExactArgs(1),
	}

	cmd.Flags().StringVar(&reason, "reason", "canceled by operator", "reason recorded on the task")
	return cmd
}
