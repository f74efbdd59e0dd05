// Package eventlog records and queries the routing event log: one ordered
// row per resolve/interrupt/transmit/lifecycle step. The log is both the
// system's structured logging surface and the observable record that, for a
// priority-5 send, interrupt_sent precedes transmit.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event represents a single row of the events table.
type Event struct {
	ID        int64
	Type      string
	Source    string
	TaskID    string
	AgentID   string
	Payload   string
	CreatedAt time.Time
}

// Log is the append/query handle over the shared events table.
type Log struct {
	db *sql.DB
}

// New creates a Log on top of an opened database.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Record appends one event. Logging is best-effort at call sites; callers
// typically ignore the returned error the way they would a logger's.
func (l *Log) Record(ctx context.Context, eventType, source, taskID, agentID, payload string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO events (type, source, task_id, agent_id, payload)
		VALUES (?, ?, ?, ?, ?)`,
		eventType, source, taskID, agentID, payload)
	if err != nil {
		return fmt.Errorf("record event %s: %w", eventType, err)
	}
	return nil
}

// QueryOpts filters a Query call. Zero values mean "any".
type QueryOpts struct {
	TaskID  string
	AgentID string
	Type    string
	Limit   int
}

// Query returns matching events in insertion order (ascending id).
func (l *Log) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query := `SELECT id, type, source, COALESCE(task_id, ''), COALESCE(agent_id, ''),
		COALESCE(payload, ''), created_at FROM events WHERE 1=1`
	var args []any
	if opts.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, opts.TaskID)
	}
	if opts.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, opts.AgentID)
	}
	if opts.Type != "" {
		query += ` AND type = ?`
		args = append(args, opts.Type)
	}
	query += ` ORDER BY id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.TaskID, &e.AgentID, &e.Payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = parseSQLiteTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Recent returns the newest n events, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, type, source, COALESCE(task_id, ''), COALESCE(agent_id, ''),
		       COALESCE(payload, ''), created_at
		FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.TaskID, &e.AgentID, &e.Payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = parseSQLiteTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// parseSQLiteTime handles both sqlite's default datetime format and RFC3339.
func parseSQLiteTime(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}
