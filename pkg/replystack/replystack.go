// Package replystack implements the reply correlator: per-receiver
// bookkeeping of which senders are owed a reply. Entries live in the shared
// SQLite database so that the sending dispatcher (which registers them) and
// the receiving agent (which peeks and pops them) can be different OS
// processes.
package replystack

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

const timeLayout = time.RFC3339Nano

// Store is the SQLite-backed reply correlator.
type Store struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNowFunc overrides the clock (for tests).
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// New creates a Store on top of an opened database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, nowFunc: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterPending records that sender is awaiting a reply from receiver for
// taskID. At most one entry exists per (receiver, sender) pair: a second
// registration overwrites the first, because an agent replies to the most
// recent question from a given sender. The returned superseded id is the
// task the overwritten entry pointed at ("" when none, or when re-registering
// the same task); the caller is expected to cancel that task so it does not
// dangle forever.
func (s *Store) RegisterPending(ctx context.Context, receiver, sender, taskID string) (superseded string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin register pending: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx,
		`SELECT task_id FROM pending_replies WHERE receiver = ? AND sender = ?`,
		receiver, sender).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("read pending (%s, %s): %w", receiver, sender, err)
	}
	if prev == taskID {
		return "", tx.Commit() // idempotent re-registration
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM pending_replies WHERE receiver = ?`,
		receiver).Scan(&seq); err != nil {
		return "", fmt.Errorf("next pending seq for %s: %w", receiver, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_replies (receiver, sender, task_id, registered_at, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(receiver, sender) DO UPDATE SET
			task_id=excluded.task_id, registered_at=excluded.registered_at, seq=excluded.seq`,
		receiver, sender, taskID, s.nowFunc().Format(timeLayout), seq)
	if err != nil {
		return "", fmt.Errorf("register pending (%s, %s): %w", receiver, sender, err)
	}
	return prev, tx.Commit()
}

// Peek returns receiver's outstanding entries, most recently registered
// first, without removing them. It lets a receiver enumerate who is waiting
// before choosing whom to answer.
func (s *Store) Peek(ctx context.Context, receiver string) ([]protocol.PendingReply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT receiver, sender, task_id, registered_at
		FROM pending_replies WHERE receiver = ? ORDER BY seq DESC`, receiver)
	if err != nil {
		return nil, fmt.Errorf("peek pending for %s: %w", receiver, err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.PendingReply
	for rows.Next() {
		var p protocol.PendingReply
		var reg string
		if err := rows.Scan(&p.Receiver, &p.Sender, &p.TaskID, &reg); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		if t, perr := time.Parse(timeLayout, reg); perr == nil {
			p.RegisteredAt = t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Pop removes and returns one entry: the one registered by sender, or the
// most recently registered one when sender is empty. Destructive,
// single-consumer semantics: a reply is delivered to exactly one correlated
// request. Fails with NotFoundError when nothing is pending.
func (s *Store) Pop(ctx context.Context, receiver, sender string) (protocol.PendingReply, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return protocol.PendingReply{}, fmt.Errorf("begin pop: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT receiver, sender, task_id, registered_at FROM pending_replies
		WHERE receiver = ?`
	args := []any{receiver}
	if sender != "" {
		query += ` AND sender = ?`
		args = append(args, sender)
	}
	query += ` ORDER BY seq DESC LIMIT 1`

	var p protocol.PendingReply
	var reg string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&p.Receiver, &p.Sender, &p.TaskID, &reg)
	if err == sql.ErrNoRows {
		target := receiver
		if sender != "" {
			target = receiver + "/" + sender
		}
		return protocol.PendingReply{}, &protocol.NotFoundError{Kind: "pending reply", Target: target}
	}
	if err != nil {
		return protocol.PendingReply{}, fmt.Errorf("pop pending for %s: %w", receiver, err)
	}
	if t, perr := time.Parse(timeLayout, reg); perr == nil {
		p.RegisteredAt = t
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM pending_replies WHERE receiver = ? AND sender = ?`, p.Receiver, p.Sender)
	if err != nil {
		return protocol.PendingReply{}, fmt.Errorf("delete pending (%s, %s): %w", p.Receiver, p.Sender, err)
	}
	return p, tx.Commit()
}

// Abandon removes the caller's interest in a reply without retracting the
// already-delivered task. Idempotent: absent entries are not an error.
func (s *Store) Abandon(ctx context.Context, receiver, sender string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_replies WHERE receiver = ? AND sender = ?`, receiver, sender)
	if err != nil {
		return fmt.Errorf("abandon pending (%s, %s): %w", receiver, sender, err)
	}
	return nil
}

// Resolution is the outcome of resolving a reply's correlation target.
// Uncorrelated is ordinary, expected control flow (the original request was
// not response-expected, or the id went stale), not an error path: the
// dispatcher branches on it and resends the reply as a new message.
type Resolution struct {
	Correlated bool
	Sender     string
	TaskID     string
}

// ResolveReplyTarget finds the request a reply from receiver should
// correlate to. With an explicit task id it pops the matching entry; with an
// empty id it pops the latest. Either way the entry is consumed. When no
// entry matches, the Uncorrelated branch is returned with a nil error.
func (s *Store) ResolveReplyTarget(ctx context.Context, receiver, explicitTaskID string) (Resolution, error) {
	if explicitTaskID == "" {
		p, err := s.Pop(ctx, receiver, "")
		if err != nil {
			var nf *protocol.NotFoundError
			if errors.As(err, &nf) {
				return Resolution{}, nil
			}
			return Resolution{}, err
		}
		return Resolution{Correlated: true, Sender: p.Sender, TaskID: p.TaskID}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Resolution{}, fmt.Errorf("begin resolve reply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sender string
	err = tx.QueryRowContext(ctx,
		`SELECT sender FROM pending_replies WHERE receiver = ? AND task_id = ?`,
		receiver, explicitTaskID).Scan(&sender)
	if err == sql.ErrNoRows {
		return Resolution{}, nil // stale id: uncorrelated branch
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve reply target %s: %w", explicitTaskID, err)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM pending_replies WHERE receiver = ? AND sender = ?`, receiver, sender)
	if err != nil {
		return Resolution{}, fmt.Errorf("consume pending (%s, %s): %w", receiver, sender, err)
	}
	if err := tx.Commit(); err != nil {
		return Resolution{}, err
	}
	return Resolution{Correlated: true, Sender: sender, TaskID: explicitTaskID}, nil
}
