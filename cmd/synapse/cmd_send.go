package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/dispatch"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// newSendCmd creates the "synapse send" subcommand.
func newSendCmd() *cobra.Command {
	var (
		from     string
		priority int
		expect   bool
		wait     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <target> <message...>",
		Short: "Send a message to another agent",
		Long: `Resolves the target (custom name, agent id, kind-port, or bare kind),
picks a delivery channel, and submits the message. Priority 5 interrupts
the target before delivery. With --expect-reply the send registers a
pending reply; add --wait to block until the reply arrives.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			target := args[0]
			body := strings.Join(args[1:], " ")

			self := a.senderInfo(cmd.Context(), from)
			d := a.dispatcher(self)

			t, err := d.Send(cmd.Context(), target, body, priority, expect)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s %s -> %s [%s]\n", t.ID, t.Sender, t.Receiver, t.State)

			if !expect || wait <= 0 {
				return nil
			}

			t, err = d.WaitForReply(cmd.Context(), t.ID, wait)
			if errors.Is(err, dispatch.ErrWaitTimeout) {
				fmt.Fprintf(cmd.OutOrStdout(), "no reply within %s; task %s still %s\n", wait, t.ID, t.State)
				return nil
			}
			if err != nil {
				return err
			}
			switch t.State {
			case protocol.TaskCompleted:
				fmt.Fprintln(cmd.OutOrStdout(), t.Result)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "task %s ended %s: %s\n", t.ID, t.State, t.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "sender identity (registered agent or free-form name)")
	cmd.Flags().IntVarP(&priority, "priority", "p", protocol.DefaultPriority, "priority 1..5 (5 interrupts the target)")
	cmd.Flags().BoolVar(&expect, "expect-reply", false, "register a pending reply for this message")
	cmd.Flags().DurationVar(&wait, "wait", 0, "with --expect-reply, block up to this long for the reply")
	return cmd
}
