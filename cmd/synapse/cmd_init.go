package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/config"
)

// newInitCmd creates the "synapse init" subcommand.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the synapse home directory and default config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if _, err := os.Stat(paths.ConfigPath); err == nil && !force {
				fmt.Fprintf(w, "config already exists at %s (use --force to overwrite)\n", paths.ConfigPath)
			} else {
				if err := os.WriteFile(paths.ConfigPath, []byte(config.DefaultTOML), 0o600); err != nil {
					return fmt.Errorf("write config %s: %w", paths.ConfigPath, err)
				}
				fmt.Fprintf(w, "wrote %s\n", paths.ConfigPath)
			}

			// Opening the database applies the schema.
			db, err := openDB(paths.StateDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			fmt.Fprintf(w, "initialized %s\n", paths.SynapseHome)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
