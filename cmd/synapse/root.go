package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s-hiraoku/synapse-a2a-sub002/internal/appversion"
)

// newRootCmd creates the root synapse command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "synapse",
		Short:         "Task routing between local AI agents",
		Long:          "synapse routes tasks and replies between independently running\nCLI agent processes on this machine.",
		Version:       fmt.Sprintf("synapse %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newSendCmd(),
		newReplyCmd(),
		newListCmd(),
		newTasksCmd(),
		newTaskCmd(),
		newCancelCmd(),
		newPendingCmd(),
		newPopCmd(),
		newSpilloverCmd(),
		newLogsCmd(),
		newDashCmd(),
	)

	return cmd
}
