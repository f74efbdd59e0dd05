package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/config"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/dispatch"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/eventlog"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/registry"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/replystack"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/spillover"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/supervisor"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/task"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/transport"
)

// app bundles the stores every subcommand needs. One-shot commands open it,
// act, and close it; serve keeps it for the process lifetime.
type app struct {
	paths   *Paths
	cfg     config.Config
	db      *sql.DB
	reg     *registry.Store
	tasks   *task.Store
	replies *replystack.Store
	spill   *spillover.Store
	events  *eventlog.Log
	router  *transport.Router
}

// openApp resolves paths, loads config, and opens the shared database.
func openApp() (*app, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, err
	}
	db, err := openDB(paths.StateDBPath)
	if err != nil {
		return nil, err
	}
	spill, err := spillover.New(paths.SpillDir,
		spillover.WithThreshold(cfg.Spillover.ThresholdBytes),
		spillover.WithTTL(cfg.Spillover.TTL.Std()))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &app{
		paths:   paths,
		cfg:     cfg,
		db:      db,
		reg:     registry.New(db, registry.WithHeartbeatTTL(cfg.Registry.HeartbeatTTL.Std())),
		tasks:   task.New(db),
		replies: replystack.New(db),
		spill:   spill,
		events:  eventlog.New(db),
		router:  transport.NewRouter(),
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}

// senderInfo resolves the identity a command acts as. A registered agent id
// or name resolves to its full endpoint identity; anything else becomes a
// synthetic CLI sender so a human can message agents directly.
func (a *app) senderInfo(ctx context.Context, from string) protocol.SenderInfo {
	if from == "" {
		from = "cli"
	}
	if ep, err := a.reg.Resolve(ctx, from); err == nil {
		return protocol.SenderInfo{ID: ep.AgentID, Kind: ep.Kind, Endpoint: ep.URL()}
	}
	return protocol.SenderInfo{ID: from, Kind: "cli"}
}

// dispatcher builds the send path acting as the given identity.
func (a *app) dispatcher(self protocol.SenderInfo) *dispatch.Dispatcher {
	return dispatch.New(self, dispatch.Deps{
		Registry:    a.reg,
		Tasks:       a.tasks,
		Replies:     a.replies,
		Spillover:   a.spill,
		Router:      a.router,
		Interrupter: supervisor.NewTmux("", &supervisor.ExecRunner{}),
		Events:      a.events,
	}, dispatch.WithWaitPoll(a.cfg.Reply.PollInterval.Std()))
}
