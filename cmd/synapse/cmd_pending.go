package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newPendingCmd creates the "synapse pending" subcommand.
func newPendingCmd() *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List requests awaiting a reply from an agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if agent == "" {
				return fmt.Errorf("--agent is required")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ep, err := a.reg.Resolve(cmd.Context(), agent)
			receiver := agent
			if err == nil {
				receiver = ep.AgentID
			}

			out, err := a.replies.Peek(cmd.Context(), receiver)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(out) == 0 {
				fmt.Fprintf(w, "no pending replies for %s\n", receiver)
				return nil
			}
			for _, p := range out {
				fmt.Fprintf(w, "%s  from %s  task %s\n", p.RegisteredAt.Format("15:04:05"), p.Sender, p.TaskID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent whose pending stack to show")
	return cmd
}

// newPopCmd creates the "synapse pop" subcommand.
func newPopCmd() *cobra.Command {
	var (
		agent  string
		sender string
	)

	cmd := &cobra.Command{
		Use:   "pop",
		Short: "Remove one pending-reply entry without answering it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if agent == "" {
				return fmt.Errorf("--agent is required")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ep, err := a.reg.Resolve(cmd.Context(), agent)
			receiver := agent
			if err == nil {
				receiver = ep.AgentID
			}

			p, err := a.replies.Pop(cmd.Context(), receiver, sender)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent whose pending stack to pop")
	cmd.Flags().StringVar(&sender, "sender", "", "pop the entry from this sender instead of the latest")
	return cmd
}
