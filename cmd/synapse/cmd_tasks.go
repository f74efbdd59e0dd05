package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/task"
)

// newTasksCmd creates the "synapse tasks" subcommand.
func newTasksCmd() *cobra.Command {
	var (
		sender   string
		receiver string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List task records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.tasks.List(cmd.Context(), task.Filter{Sender: sender, Receiver: receiver})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			if len(out) == 0 {
				fmt.Fprintln(w, "no tasks")
				return nil
			}
			for _, t := range out {
				fmt.Fprintf(w, "%s  p%d  %-14s  %s -> %s  %s\n",
					t.ID, t.Priority, t.State, t.Sender, t.Receiver, truncate(t.Body, 60))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sender, "sender", "", "filter by sender agent id")
	cmd.Flags().StringVar(&receiver, "receiver", "", "filter by receiver agent id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of a table")
	return cmd
}

// newTaskCmd creates the "synapse task" subcommand.
func newTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task <id>",
		Short: "Show one task record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.tasks.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
