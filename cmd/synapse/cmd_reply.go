package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newReplyCmd creates the "synapse reply" subcommand.
func newReplyCmd() *cobra.Command {
	var (
		from   string
		taskID string
	)

	cmd := &cobra.Command{
		Use:   "reply <message...>",
		Short: "Answer the most recent pending request",
		Long: `Replies on behalf of --from. Without --task the most recently registered
pending request is answered; with --task the reply correlates to that
specific request. A stale task id falls back to an uncorrelated send so
the content is never dropped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				return fmt.Errorf("--from is required")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			self := a.senderInfo(cmd.Context(), from)
			d := a.dispatcher(self)

			t, err := d.Reply(cmd.Context(), strings.Join(args, " "), taskID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s [%s]\n", t.ID, t.State)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "replying agent (id or name)")
	cmd.Flags().StringVar(&taskID, "task", "", "task id to correlate the reply to")
	return cmd
}
