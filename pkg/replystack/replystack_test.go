package replystack_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/replystack"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func TestRegisterPendingOverwrites(t *testing.T) {
	t.Parallel()

	store := replystack.New(openTestDB(t))
	ctx := context.Background()

	superseded, err := store.RegisterPending(ctx, "gemini-8200", "claude-8100", "task-1")
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	if superseded != "" {
		t.Errorf("first register superseded %q, want none", superseded)
	}

	superseded, err = store.RegisterPending(ctx, "gemini-8200", "claude-8100", "task-2")
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if superseded != "task-1" {
		t.Errorf("superseded = %q, want task-1", superseded)
	}

	out, err := store.Peek(ctx, "gemini-8200")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(out) != 1 || out[0].TaskID != "task-2" {
		t.Errorf("stack after overwrite: %+v", out)
	}
}

func TestRegisterPendingIdempotentSameTask(t *testing.T) {
	t.Parallel()

	store := replystack.New(openTestDB(t))
	ctx := context.Background()

	if _, err := store.RegisterPending(ctx, "g", "c", "task-1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	superseded, err := store.RegisterPending(ctx, "g", "c", "task-1")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if superseded != "" {
		t.Errorf("same-task re-registration superseded %q", superseded)
	}
}

func TestPeekNewestFirst(t *testing.T) {
	t.Parallel()

	store := replystack.New(openTestDB(t))
	ctx := context.Background()

	for i, sender := range []string{"a", "b", "c"} {
		if _, err := store.RegisterPending(ctx, "recv", sender, "task-"+sender); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}

	out, err := store.Peek(ctx, "recv")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d entries, want 3", len(out))
	}
	if out[0].Sender != "c" || out[2].Sender != "a" {
		t.Errorf("peek order wrong: %v, %v, %v", out[0].Sender, out[1].Sender, out[2].Sender)
	}
}

func TestPopLatestAndBySender(t *testing.T) {
	t.Parallel()

	store := replystack.New(openTestDB(t))
	ctx := context.Background()

	for _, sender := range []string{"a", "b", "c"} {
		if _, err := store.RegisterPending(ctx, "recv", sender, "task-"+sender); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	p, err := store.Pop(ctx, "recv", "")
	if err != nil {
		t.Fatalf("pop latest: %v", err)
	}
	if p.Sender != "c" {
		t.Errorf("pop latest = %s, want c", p.Sender)
	}

	p, err = store.Pop(ctx, "recv", "a")
	if err != nil {
		t.Fatalf("pop by sender: %v", err)
	}
	if p.TaskID != "task-a" {
		t.Errorf("pop by sender task = %s", p.TaskID)
	}

	// Only b remains; popping a again is not found.
	_, err = store.Pop(ctx, "recv", "a")
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
}

func TestPopEmptyStack(t *testing.T) {
	t.Parallel()

	store := replystack.New(openTestDB(t))

	_, err := store.Pop(context.Background(), "recv", "")
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
}

func TestAbandonIdempotent(t *testing.T) {
	t.Parallel()

	store := replystack.New(openTestDB(t))
	ctx := context.Background()

	if _, err := store.RegisterPending(ctx, "recv", "a", "task-a"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := store.Abandon(ctx, "recv", "a"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if err := store.Abandon(ctx, "recv", "a"); err != nil {
		t.Fatalf("second abandon: %v", err)
	}

	out, err := store.Peek(ctx, "recv")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("abandoned entry still present: %+v", out)
	}
}

func TestResolveReplyTarget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("latest entry", func(t *testing.T) {
		t.Parallel()
		store := replystack.New(openTestDB(t))
		if _, err := store.RegisterPending(ctx, "recv", "a", "task-a"); err != nil {
			t.Fatalf("register: %v", err)
		}
		if _, err := store.RegisterPending(ctx, "recv", "b", "task-b"); err != nil {
			t.Fatalf("register: %v", err)
		}

		res, err := store.ResolveReplyTarget(ctx, "recv", "")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !res.Correlated || res.Sender != "b" || res.TaskID != "task-b" {
			t.Errorf("resolution = %+v", res)
		}
	})

	t.Run("explicit id consumes entry", func(t *testing.T) {
		t.Parallel()
		store := replystack.New(openTestDB(t))
		if _, err := store.RegisterPending(ctx, "recv", "a", "task-a"); err != nil {
			t.Fatalf("register: %v", err)
		}

		res, err := store.ResolveReplyTarget(ctx, "recv", "task-a")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !res.Correlated || res.Sender != "a" {
			t.Errorf("resolution = %+v", res)
		}

		out, err := store.Peek(ctx, "recv")
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if len(out) != 0 {
			t.Errorf("entry not consumed: %+v", out)
		}
	})

	t.Run("stale id is uncorrelated not error", func(t *testing.T) {
		t.Parallel()
		store := replystack.New(openTestDB(t))

		res, err := store.ResolveReplyTarget(ctx, "recv", "task-gone")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res.Correlated {
			t.Errorf("stale id should be uncorrelated: %+v", res)
		}
	})

	t.Run("empty stack is uncorrelated", func(t *testing.T) {
		t.Parallel()
		store := replystack.New(openTestDB(t))

		res, err := store.ResolveReplyTarget(ctx, "recv", "")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res.Correlated {
			t.Errorf("empty stack should be uncorrelated: %+v", res)
		}
	})
}
