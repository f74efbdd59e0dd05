package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSpilloverCmd creates the "synapse spillover" subcommand group.
func newSpilloverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spillover",
		Short: "Inspect offloaded oversized message bodies",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <ref>",
			Short: "Print the full body behind a spillover reference",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp()
				if err != nil {
					return err
				}
				defer a.Close()

				body, err := a.spill.Retrieve(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), body)
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Delete expired spillover files now",
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := openApp()
				if err != nil {
					return err
				}
				defer a.Close()

				n, err := a.spill.Sweep()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired file(s)\n", n)
				return nil
			},
		},
	)
	return cmd
}
