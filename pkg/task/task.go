// Package task implements the task lifecycle manager: it owns task records
// in the shared SQLite database and validates every state transition against
// the lifecycle state machine. It stores the states and errors it is given;
// classifying raw process output into those values is the supervisor
// boundary's job, never this package's.
package task

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// timeLayout is the stored created_at format.
const timeLayout = time.RFC3339Nano

// Store is the SQLite-backed task lifecycle manager.
type Store struct {
	db *sql.DB

	// nowFunc and idFunc allow tests to control time and id generation.
	nowFunc func() time.Time
	idFunc  func() string
}

// Option configures a Store.
type Option func(*Store)

// WithNowFunc overrides the clock (for tests).
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// WithIDFunc overrides task id generation (for tests).
func WithIDFunc(id func() string) Option {
	return func(s *Store) { s.idFunc = id }
}

// New creates a Store on top of an opened database. The caller is expected
// to have applied protocol.SchemaDDL.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		nowFunc: time.Now,
		idFunc:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the inputs and inserts a new task in state created.
// Fails with ValidationError before any side effect if the body is empty or
// the priority is outside 1..5.
func (s *Store) Create(ctx context.Context, sender, receiver, body string, priority int, responseExpected bool) (protocol.Task, error) {
	if body == "" {
		return protocol.Task{}, &protocol.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if !protocol.ValidPriority(priority) {
		return protocol.Task{}, &protocol.ValidationError{
			Field:  "priority",
			Reason: fmt.Sprintf("%d outside %d..%d", priority, protocol.MinPriority, protocol.MaxPriority),
		}
	}

	t := protocol.Task{
		ID:               s.idFunc(),
		Sender:           sender,
		Receiver:         receiver,
		Body:             body,
		Priority:         priority,
		ResponseExpected: responseExpected,
		State:            protocol.TaskCreated,
		CreatedAt:        s.nowFunc(),
	}
	if err := s.insert(ctx, t); err != nil {
		return protocol.Task{}, err
	}
	return t, nil
}

// Ensure inserts a task record received from a remote sender that does not
// share this host's database. If a record with the same id already exists
// (the local-sender fast path), Ensure is a no-op.
func (s *Store) Ensure(ctx context.Context, t protocol.Task) error {
	existing, err := s.Get(ctx, t.ID)
	if err == nil && existing.ID == t.ID {
		return nil
	}
	if t.State == "" {
		t.State = protocol.TaskSubmitted
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.nowFunc()
	}
	return s.insert(ctx, t)
}

func (s *Store) insert(ctx context.Context, t protocol.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, sender, receiver, body, spill_ref, priority, response_expected, state, created_at, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		t.ID, t.Sender, t.Receiver, t.Body, t.SpillRef, t.Priority,
		boolInt(t.ResponseExpected), string(t.State), t.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// AttachSpillRef records the side-channel reference on a task whose body was
// offloaded before transmission.
func (s *Store) AttachSpillRef(ctx context.Context, id, ref string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET spill_ref = ? WHERE id = ?`, ref, id)
	if err != nil {
		return fmt.Errorf("attach spill ref to %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &protocol.NotFoundError{Kind: "task", Target: id}
	}
	return nil
}

// Get retrieves a task by id.
func (s *Store) Get(ctx context.Context, id string) (protocol.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sender, receiver, body, spill_ref, priority, response_expected,
		       state, created_at, COALESCE(result, ''), COALESCE(error, '')
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return protocol.Task{}, &protocol.NotFoundError{Kind: "task", Target: id}
	}
	if err != nil {
		return protocol.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// Filter narrows a List call. Zero values mean "any".
type Filter struct {
	Sender   string
	Receiver string
}

// List returns tasks matching the filter, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]protocol.Task, error) {
	query := `
		SELECT id, sender, receiver, body, spill_ref, priority, response_expected,
		       state, created_at, COALESCE(result, ''), COALESCE(error, '')
		FROM tasks WHERE 1=1`
	var args []any
	if f.Sender != "" {
		query += ` AND sender = ?`
		args = append(args, f.Sender)
	}
	if f.Receiver != "" {
		query += ` AND receiver = ?`
		args = append(args, f.Receiver)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkSubmitted transitions created -> submitted.
func (s *Store) MarkSubmitted(ctx context.Context, id string) error {
	return s.transition(ctx, id, protocol.TaskSubmitted, "", "")
}

// MarkWorking transitions submitted -> working, or resumes a task that was
// input-required once the receiver reports it has unblocked.
func (s *Store) MarkWorking(ctx context.Context, id string) error {
	return s.transition(ctx, id, protocol.TaskWorking, "", "")
}

// MarkInputRequired transitions working -> input-required.
func (s *Store) MarkInputRequired(ctx context.Context, id string) error {
	return s.transition(ctx, id, protocol.TaskInputRequired, "", "")
}

// MarkTerminal sets one of the terminal states with a result (completed) or
// error (failed, canceled). A terminal state is set exactly once; further
// mutation attempts fail with InvalidTransitionError.
func (s *Store) MarkTerminal(ctx context.Context, id string, state protocol.TaskState, result, errText string) error {
	if !state.Terminal() {
		return &protocol.ValidationError{Field: "state", Reason: fmt.Sprintf("%s is not terminal", state)}
	}
	return s.transition(ctx, id, state, result, errText)
}

// transition validates and applies one state-machine edge inside a
// transaction so concurrent mutators cannot race past the validation.
func (s *Store) transition(ctx context.Context, id string, to protocol.TaskState, result, errText string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var from string
	err = tx.QueryRowContext(ctx, `SELECT state FROM tasks WHERE id = ?`, id).Scan(&from)
	if err == sql.ErrNoRows {
		return &protocol.NotFoundError{Kind: "task", Target: id}
	}
	if err != nil {
		return fmt.Errorf("read task %s state: %w", id, err)
	}

	if !protocol.CanTransition(protocol.TaskState(from), to) {
		return &protocol.InvalidTransitionError{TaskID: id, From: protocol.TaskState(from), To: to}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET state = ?,
			result = CASE WHEN ? != '' THEN ? ELSE result END,
			error  = CASE WHEN ? != '' THEN ? ELSE error END
		WHERE id = ?`,
		string(to), result, result, errText, errText, id)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (protocol.Task, error) {
	var t protocol.Task
	var respExpected int
	var state, createdAt string
	err := row.Scan(&t.ID, &t.Sender, &t.Receiver, &t.Body, &t.SpillRef,
		&t.Priority, &respExpected, &state, &createdAt, &t.Result, &t.Error)
	if err != nil {
		return protocol.Task{}, err
	}
	t.ResponseExpected = respExpected != 0
	t.State = protocol.TaskState(state)
	if ts, perr := time.Parse(timeLayout, createdAt); perr == nil {
		t.CreatedAt = ts
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
