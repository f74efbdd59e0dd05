// Package registry implements the durable agent directory. Every live agent
// process registers an endpoint row in the shared SQLite database; lookups
// resolve human-friendly target strings to endpoints and lazily evict
// entries whose owning process is gone.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// DefaultHeartbeatTTL is how stale a heartbeat may be before an entry is
// considered dead even when its PID probe passes (PID reuse protection).
const DefaultHeartbeatTTL = 2 * time.Minute

// timeLayout is the stored heartbeat format.
const timeLayout = time.RFC3339Nano

// Store is the SQLite-backed agent registry. All local synapse processes
// share one database; SQLite (WAL + busy_timeout) provides the
// single-writer-per-key discipline.
type Store struct {
	db           *sql.DB
	heartbeatTTL time.Duration

	// nowFunc and aliveFunc allow tests to control time and liveness.
	nowFunc   func() time.Time
	aliveFunc func(pid int) bool
}

// Option configures a Store.
type Option func(*Store)

// WithHeartbeatTTL overrides the staleness window.
func WithHeartbeatTTL(ttl time.Duration) Option {
	return func(s *Store) { s.heartbeatTTL = ttl }
}

// WithNowFunc overrides the clock (for tests).
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// WithAliveFunc overrides the process liveness probe (for tests).
func WithAliveFunc(alive func(pid int) bool) Option {
	return func(s *Store) { s.aliveFunc = alive }
}

// New creates a Store on top of an opened database. The caller is expected
// to have applied protocol.SchemaDDL.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:           db,
		heartbeatTTL: DefaultHeartbeatTTL,
		nowFunc:      time.Now,
		aliveFunc:    ProcessAlive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register upserts an endpoint keyed by agent_id. Registration is
// idempotent: re-registering the same agent_id updates its fields in place.
// It fails with protocol.ConflictError if the custom name or port is held
// by a different live agent; dead holders are evicted first, freeing the
// name or port.
func (s *Store) Register(ctx context.Context, ep protocol.AgentEndpoint) error {
	if ep.AgentID == "" {
		return &protocol.ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}

	if ep.CustomName != "" {
		if err := s.evictHolder(ctx, "custom_name", "custom name", ep.CustomName, ep.AgentID); err != nil {
			return err
		}
	}
	if err := s.evictHolder(ctx, "port", "port", strconv.Itoa(ep.Port), ep.AgentID); err != nil {
		return err
	}

	hb := ep.LastHeartbeat
	if hb.IsZero() {
		hb = s.nowFunc()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, kind, custom_name, port, socket_path, working_dir, pid, pane, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			kind=excluded.kind, custom_name=excluded.custom_name,
			port=excluded.port, socket_path=excluded.socket_path,
			working_dir=excluded.working_dir, pid=excluded.pid,
			pane=excluded.pane, last_heartbeat=excluded.last_heartbeat`,
		ep.AgentID, ep.Kind, nullable(ep.CustomName), ep.Port, ep.SocketPath,
		ep.WorkingDir, ep.PID, ep.Pane, hb.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("register agent %s: %w", ep.AgentID, err)
	}
	return nil
}

// evictHolder removes a dead agent holding the given unique column value,
// or returns ConflictError if the holder is alive and is not self. kind is
// the human-readable label for the column carried on the error.
func (s *Store) evictHolder(ctx context.Context, column, kind, value, self string) error {
	query := fmt.Sprintf( //nolint:gosec // column is one of two compile-time constants
		`SELECT agent_id, pid, last_heartbeat FROM agents WHERE %s = ?`, column)
	row := s.db.QueryRowContext(ctx, query, value)

	var holder string
	var pid int
	var hb string
	err := row.Scan(&holder, &pid, &hb)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check %s conflict: %w", column, err)
	}
	if holder == self {
		return nil
	}
	if s.live(pid, hb) {
		return &protocol.ConflictError{Kind: kind, Name: value, HeldBy: holder}
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, holder)
	if err != nil {
		return fmt.Errorf("evict stale agent %s: %w", holder, err)
	}
	return nil
}

// Resolve maps a target string to a live endpoint. Resolution order:
//
//  1. exact custom-name match (case-sensitive)
//  2. exact agent-id match
//  3. "<kind>-<port>" shorthand
//  4. bare kind, valid only if exactly one live agent of that kind exists
//
// Dead entries encountered along the way are evicted and never returned.
// A bare kind matching several live agents fails with AmbiguousError
// listing every candidate so the caller can immediately disambiguate.
func (s *Store) Resolve(ctx context.Context, target string) (protocol.AgentEndpoint, error) {
	eps, err := s.loadLive(ctx)
	if err != nil {
		return protocol.AgentEndpoint{}, err
	}

	for _, ep := range eps {
		if ep.CustomName != "" && ep.CustomName == target {
			return ep, nil
		}
	}
	for _, ep := range eps {
		if ep.AgentID == target {
			return ep, nil
		}
	}
	if kind, port, ok := splitKindPort(target); ok {
		for _, ep := range eps {
			if ep.Kind == kind && ep.Port == port {
				return ep, nil
			}
		}
	}

	var candidates []protocol.AgentEndpoint
	for _, ep := range eps {
		if ep.Kind == target {
			candidates = append(candidates, ep)
		}
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return protocol.AgentEndpoint{}, &protocol.NotFoundError{Kind: "agent", Target: target}
	default:
		ids := make([]string, len(candidates))
		for i, ep := range candidates {
			ids[i] = ep.AgentID
		}
		sort.Strings(ids)
		return protocol.AgentEndpoint{}, &protocol.AmbiguousError{Target: target, Candidates: ids}
	}
}

// ListLive probes every entry and evicts the dead ones before returning the
// survivors sorted by agent id.
func (s *Store) ListLive(ctx context.Context) ([]protocol.AgentEndpoint, error) {
	eps, err := s.loadLive(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].AgentID < eps[j].AgentID })
	return eps, nil
}

// Deregister removes an entry. Idempotent: no error if already absent.
func (s *Store) Deregister(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("deregister agent %s: %w", agentID, err)
	}
	return nil
}

// Heartbeat refreshes an agent's last_heartbeat timestamp.
func (s *Store) Heartbeat(ctx context.Context, agentID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET last_heartbeat = ? WHERE agent_id = ?`,
		s.nowFunc().Format(timeLayout), agentID)
	if err != nil {
		return fmt.Errorf("heartbeat agent %s: %w", agentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &protocol.NotFoundError{Kind: "agent", Target: agentID}
	}
	return nil
}

// Sweep evicts every dead entry and returns how many were removed. Serve
// loops run this periodically; lookups do the same lazily.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	evicted := 0
	for _, e := range all {
		if s.live(e.ep.PID, e.hb) {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, e.ep.AgentID); err != nil {
			return evicted, fmt.Errorf("evict agent %s: %w", e.ep.AgentID, err)
		}
		evicted++
	}
	return evicted, nil
}

// --- internals ---

type rawEntry struct {
	ep protocol.AgentEndpoint
	hb string
}

// loadAll reads every row without liveness filtering.
func (s *Store) loadAll(ctx context.Context) ([]rawEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, kind, COALESCE(custom_name, ''), port, socket_path,
		       working_dir, pid, pane, last_heartbeat
		FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []rawEntry
	for rows.Next() {
		var e rawEntry
		if err := rows.Scan(&e.ep.AgentID, &e.ep.Kind, &e.ep.CustomName, &e.ep.Port,
			&e.ep.SocketPath, &e.ep.WorkingDir, &e.ep.PID, &e.ep.Pane, &e.hb); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		if t, perr := time.Parse(timeLayout, e.hb); perr == nil {
			e.ep.LastHeartbeat = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// loadLive reads every row, evicting dead entries as it goes.
func (s *Store) loadLive(ctx context.Context) ([]protocol.AgentEndpoint, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	live := make([]protocol.AgentEndpoint, 0, len(all))
	for _, e := range all {
		if s.live(e.ep.PID, e.hb) {
			live = append(live, e.ep)
			continue
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, e.ep.AgentID)
	}
	return live, nil
}

// live reports whether an entry's owning process is confirmed running and
// its heartbeat is recent enough.
func (s *Store) live(pid int, heartbeat string) bool {
	if !s.aliveFunc(pid) {
		return false
	}
	if s.heartbeatTTL <= 0 {
		return true
	}
	t, err := time.Parse(timeLayout, heartbeat)
	if err != nil {
		// Unparseable heartbeat: trust the PID probe alone.
		return true
	}
	return s.nowFunc().Sub(t) <= s.heartbeatTTL
}

// splitKindPort parses "<kind>-<port>" shorthand. The kind itself may
// contain hyphens, so the split is on the last one.
func splitKindPort(target string) (string, int, bool) {
	i := strings.LastIndexByte(target, '-')
	if i <= 0 || i == len(target)-1 {
		return "", 0, false
	}
	port, err := strconv.Atoi(target[i+1:])
	if err != nil || port <= 0 {
		return "", 0, false
	}
	return target[:i], port, true
}

// nullable maps "" to NULL so the custom_name UNIQUE constraint ignores
// agents without one.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
