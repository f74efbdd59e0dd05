package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/server"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/supervisor"
)

// newServeCmd creates the "synapse serve" subcommand: the long-running
// endpoint process that represents one CLI agent on the routing mesh.
func newServeCmd() *cobra.Command {
	var (
		kind      string
		name      string
		port      int
		pane      string
		statusDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the endpoint surface for one agent",
		Long: `Registers this agent in the shared registry and serves its task endpoint
on both the loopback TCP port and a Unix domain socket until interrupted.
Inbound messages are pasted into the agent's tmux pane when --pane is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kind == "" {
				return fmt.Errorf("--kind is required")
			}
			if port <= 0 || port > 65535 {
				return fmt.Errorf("--port must be in 1..65535")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			workDir, _ := os.Getwd()
			ep := protocol.AgentEndpoint{
				AgentID:    protocol.AgentID(kind, port),
				Kind:       kind,
				CustomName: name,
				Port:       port,
				SocketPath: a.paths.SocketPath(protocol.AgentID(kind, port)),
				WorkingDir: workDir,
				PID:        os.Getpid(),
				Pane:       pane,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pidFile, err := writePIDFile(a.paths, ep.AgentID)
			if err != nil {
				return err
			}
			defer removePIDFile(pidFile)

			if err := a.reg.Register(ctx, ep); err != nil {
				return err
			}
			defer func() {
				_ = a.reg.Deregister(cmd.Context(), ep.AgentID)
			}()

			var sink supervisor.Sink = supervisor.NopSink{}
			if pane != "" {
				sink = supervisor.NewTmux(pane, &supervisor.ExecRunner{})
			}
			var reporter supervisor.StatusReporter = supervisor.StaticReporter{}
			if statusDir != "" {
				reporter = supervisor.NewFileReporter(statusDir)
			}

			srv := server.New(ep, server.Deps{
				Tasks:    a.tasks,
				Replies:  a.replies,
				Events:   a.events,
				Sink:     sink,
				Reporter: reporter,
			})

			go server.Heartbeats(ctx, a.reg, ep.AgentID, a.cfg.Registry.HeartbeatInterval.Std())
			go server.SweepRegistry(ctx, a.reg, a.cfg.Registry.SweepInterval.Std())
			go a.spill.RunSweeper(ctx, a.cfg.Spillover.SweepInterval.Std())

			fmt.Fprintf(cmd.OutOrStdout(), "%s listening on 127.0.0.1:%d and %s\n",
				ep.AgentID, port, ep.SocketPath)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "agent kind, e.g. claude or gemini")
	cmd.Flags().StringVar(&name, "name", "", "optional unique custom name for this agent")
	cmd.Flags().IntVar(&port, "port", 0, "loopback TCP port to serve on")
	cmd.Flags().StringVar(&pane, "pane", "", "tmux pane running the agent (session:window.pane)")
	cmd.Flags().StringVar(&statusDir, "status-dir", "", "directory with classifier status/error files")
	return cmd
}
