package dispatch_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/dispatch"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/eventlog"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/registry"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/replystack"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/spillover"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/task"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/transport"
)

// env wires a dispatcher against a real HTTP receiver and a temp database.
type env struct {
	db      *sql.DB
	reg     *registry.Store
	tasks   *task.Store
	replies *replystack.Store
	spill   *spillover.Store
	events  *eventlog.Log

	// receiver side
	target protocol.AgentEndpoint

	mu        sync.Mutex
	received  []protocol.Envelope
	sequence  []string // interleaving of interrupts and deliveries
	interrupt *fakeInterrupter
}

type fakeInterrupter struct {
	env *env
	err error
}

func (f *fakeInterrupter) Interrupt(context.Context, protocol.AgentEndpoint) error {
	f.env.mu.Lock()
	f.env.sequence = append(f.env.sequence, "interrupt")
	f.env.mu.Unlock()
	return f.err
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		t.Fatalf("set busy_timeout: %v", err)
	}
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	e := &env{db: db}
	e.interrupt = &fakeInterrupter{env: e}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", func(w http.ResponseWriter, r *http.Request) {
		var envl protocol.Envelope
		_ = json.NewDecoder(r.Body).Decode(&envl)
		e.mu.Lock()
		e.received = append(e.received, envl)
		e.sequence = append(e.sequence, "deliver")
		e.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	_, portStr, _ := net.SplitHostPort(ts.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	e.reg = registry.New(db, registry.WithAliveFunc(func(int) bool { return true }))
	e.tasks = task.New(db)
	e.replies = replystack.New(db)
	e.events = eventlog.New(db)
	e.spill, err = spillover.New(t.TempDir(), spillover.WithThreshold(64))
	if err != nil {
		t.Fatalf("spillover: %v", err)
	}

	e.target = protocol.AgentEndpoint{
		AgentID: protocol.AgentID("gemini", port),
		Kind:    "gemini",
		Port:    port,
		PID:     1,
	}
	if err := e.reg.Register(context.Background(), e.target); err != nil {
		t.Fatalf("register target: %v", err)
	}
	return e
}

func (e *env) dispatcher(selfID string) *dispatch.Dispatcher {
	return dispatch.New(
		protocol.SenderInfo{ID: selfID, Kind: "claude"},
		dispatch.Deps{
			Registry:    e.reg,
			Tasks:       e.tasks,
			Replies:     e.replies,
			Spillover:   e.spill,
			Router:      transport.NewRouter().WithProbeFunc(func(string) bool { return false }),
			Interrupter: e.interrupt,
			Events:      e.events,
		},
		dispatch.WithWaitPoll(5*time.Millisecond),
		dispatch.WithSleepFunc(func(time.Duration) {}),
	)
}

func (e *env) lastEnvelope(t *testing.T) protocol.Envelope {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.received) == 0 {
		t.Fatal("nothing was delivered")
	}
	return e.received[len(e.received)-1]
}

func TestSendDeliversAndSubmits(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")

	got, err := d.Send(context.Background(), e.target.AgentID, "run the tests", 3, false)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.State != protocol.TaskSubmitted {
		t.Errorf("state = %s, want submitted", got.State)
	}

	envl := e.lastEnvelope(t)
	if envl.Content != "run the tests" || envl.Role != protocol.RoleUser {
		t.Errorf("envelope = %+v", envl)
	}
	if envl.Meta.SenderTaskID != "" {
		t.Errorf("fire-and-forget envelope must not carry a task id, got %q", envl.Meta.SenderTaskID)
	}
}

func TestSendResponseExpected(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")
	ctx := context.Background()

	got, err := d.Send(ctx, e.target.AgentID, "question?", 3, true)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	envl := e.lastEnvelope(t)
	if !envl.Meta.ResponseExpected || envl.Meta.SenderTaskID != got.ID {
		t.Errorf("envelope meta = %+v, want sender_task_id %s", envl.Meta, got.ID)
	}

	pending, err := e.replies.Peek(ctx, e.target.AgentID)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(pending) != 1 || pending[0].TaskID != got.ID || pending[0].Sender != "claude-8100" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestSecondSendCancelsSupersededTask(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")
	ctx := context.Background()

	first, err := d.Send(ctx, e.target.AgentID, "first question", 3, true)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := d.Send(ctx, e.target.AgentID, "second question", 3, true)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}

	got, err := e.tasks.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if got.State != protocol.TaskCanceled {
		t.Errorf("superseded task state = %s, want canceled", got.State)
	}

	pending, err := e.replies.Peek(ctx, e.target.AgentID)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(pending) != 1 || pending[0].TaskID != second.ID {
		t.Errorf("pending after supersede = %+v", pending)
	}
}

func TestPriority5InterruptsBeforeDelivery(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")
	ctx := context.Background()

	got, err := d.Send(ctx, e.target.AgentID, "stop what you are doing", 5, false)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	e.mu.Lock()
	seq := append([]string(nil), e.sequence...)
	e.mu.Unlock()
	if len(seq) != 2 || seq[0] != "interrupt" || seq[1] != "deliver" {
		t.Fatalf("sequence = %v, want [interrupt deliver]", seq)
	}

	// The event log preserves the same ordering.
	events, err := e.events.Query(ctx, eventlog.QueryOpts{TaskID: got.ID})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	interruptIdx, transmitIdx := -1, -1
	for i, ev := range events {
		switch ev.Type {
		case "interrupt_sent":
			interruptIdx = i
		case "transmit":
			transmitIdx = i
		}
	}
	if interruptIdx == -1 || transmitIdx == -1 || interruptIdx > transmitIdx {
		t.Errorf("event order wrong: %+v", events)
	}
}

func TestOrdinaryPriorityDoesNotInterrupt(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")

	if _, err := d.Send(context.Background(), e.target.AgentID, "no rush", 4, false); err != nil {
		t.Fatalf("send: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sequence {
		if s == "interrupt" {
			t.Fatalf("priority 4 must not interrupt: %v", e.sequence)
		}
	}
}

func TestInterruptFailureDowngradesToDelivery(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.interrupt.err = errors.New("pane gone")
	d := e.dispatcher("claude-8100")

	got, err := d.Send(context.Background(), e.target.AgentID, "urgent anyway", 5, false)
	if err != nil {
		t.Fatalf("send should survive a failed interrupt: %v", err)
	}
	if got.State != protocol.TaskSubmitted {
		t.Errorf("state = %s", got.State)
	}
	if envl := e.lastEnvelope(t); envl.Content != "urgent anyway" {
		t.Errorf("message lost after failed interrupt: %+v", envl)
	}
}

func TestSendToUnreachableAgentFailsTask(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	// Registered but nothing listens on its port.
	ghost := protocol.AgentEndpoint{
		AgentID: "codex-1", Kind: "codex", Port: 1, PID: 1,
	}
	if err := e.reg.Register(ctx, ghost); err != nil {
		t.Fatalf("register ghost: %v", err)
	}
	d := e.dispatcher("claude-8100")

	_, err := d.Send(ctx, "codex-1", "anyone there?", 3, false)
	var de *protocol.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("want DeliveryError, got %v", err)
	}
	if de.Reason != protocol.ReasonUnreachable {
		t.Errorf("reason = %s, want unreachable", de.Reason)
	}

	// The failure is recorded on the task.
	tasks, err := e.tasks.List(ctx, task.Filter{Receiver: "codex-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].State != protocol.TaskFailed {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestSendToUnknownAgent(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")
	ctx := context.Background()

	_, err := d.Send(ctx, "nobody", "hello?", 3, false)
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want NotFoundError, got %v", err)
	}

	// Resolution failure precedes any side effect.
	tasks, err := e.tasks.List(ctx, task.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("failed resolution left %d task records", len(tasks))
	}
}

func TestSendValidatesBeforeSideEffects(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")
	ctx := context.Background()

	for _, tc := range []struct {
		body     string
		priority int
	}{
		{"", 3},
		{"hello", 0},
		{"hello", 9},
	} {
		_, err := d.Send(ctx, e.target.AgentID, tc.body, tc.priority, false)
		var ve *protocol.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Send(%q, %d): want ValidationError, got %v", tc.body, tc.priority, err)
		}
	}
}

func TestOversizedBodySpills(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")
	ctx := context.Background()

	body := strings.Repeat("data ", 100) // well past the 64-byte test threshold
	got, err := d.Send(ctx, e.target.AgentID, body, 3, false)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.SpillRef == "" {
		t.Fatal("task record missing spill ref")
	}

	envl := e.lastEnvelope(t)
	if envl.Content == body {
		t.Fatal("oversized body traveled inline")
	}
	if !strings.Contains(envl.Content, got.SpillRef) {
		t.Errorf("pointer text does not mention ref %s: %q", got.SpillRef, envl.Content)
	}

	stored, err := e.spill.Retrieve(got.SpillRef)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if stored != body {
		t.Error("spilled body does not round-trip")
	}
}

func TestReplyCorrelated(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	// The target asked us something earlier: a pending entry points at the
	// requester's task, and the reply must travel back with in_reply_to.
	orig, err := e.tasks.Create(ctx, e.target.AgentID, "claude-8100", "what is 2+2?", 3, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.tasks.MarkSubmitted(ctx, orig.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.replies.RegisterPending(ctx, "claude-8100", e.target.AgentID, orig.ID); err != nil {
		t.Fatalf("register pending: %v", err)
	}

	d := e.dispatcher("claude-8100")
	if _, err := d.Reply(ctx, "4", ""); err != nil {
		t.Fatalf("reply: %v", err)
	}

	envl := e.lastEnvelope(t)
	if envl.Meta.InReplyTo != orig.ID {
		t.Errorf("in_reply_to = %q, want %s", envl.Meta.InReplyTo, orig.ID)
	}
	if envl.Content != "4" {
		t.Errorf("content = %q", envl.Content)
	}

	// The pending entry is consumed.
	pending, err := e.replies.Peek(ctx, "claude-8100")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending not consumed: %+v", pending)
	}
}

func TestReplyStaleIDResendsUncorrelated(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	// A task exists but its pending entry is long gone.
	orig, err := e.tasks.Create(ctx, e.target.AgentID, "claude-8100", "old question", 3, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	d := e.dispatcher("claude-8100")
	got, err := d.Reply(ctx, "belated answer", orig.ID)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	if got.ID == orig.ID {
		t.Error("stale reply should create a new task, not touch the old one")
	}
	if got.Receiver != e.target.AgentID {
		t.Errorf("receiver = %s, want %s", got.Receiver, e.target.AgentID)
	}
	envl := e.lastEnvelope(t)
	if envl.Meta.InReplyTo != "" {
		t.Errorf("uncorrelated resend must not claim correlation: %+v", envl.Meta)
	}
}

func TestReplyWithNothingPending(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")

	_, err := d.Reply(context.Background(), "to whom?", "")
	var nf *protocol.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
}

func TestWaitForReply(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")
	ctx := context.Background()

	sent, err := d.Send(ctx, e.target.AgentID, "ping", 3, true)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = e.tasks.MarkTerminal(ctx, sent.ID, protocol.TaskCompleted, "pong", "")
	}()

	got, err := d.WaitForReply(ctx, sent.ID, 2*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got.State != protocol.TaskCompleted || got.Result != "pong" {
		t.Errorf("task = %s result %q", got.State, got.Result)
	}
}

func TestWaitForReplyTimeout(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")
	ctx := context.Background()

	sent, err := d.Send(ctx, e.target.AgentID, "ping", 3, true)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := d.WaitForReply(ctx, sent.ID, 30*time.Millisecond)
	if !errors.Is(err, dispatch.ErrWaitTimeout) {
		t.Fatalf("want ErrWaitTimeout, got %v", err)
	}
	if got.State.Terminal() {
		t.Errorf("timed-out task should still be open, got %s", got.State)
	}

	// The pending entry survives a timeout; the reply may still arrive.
	pending, perr := e.replies.Peek(ctx, e.target.AgentID)
	if perr != nil {
		t.Fatalf("peek: %v", perr)
	}
	if len(pending) != 1 {
		t.Errorf("pending entry dropped on timeout: %+v", pending)
	}
}

func TestAbandon(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	d := e.dispatcher("claude-8100")
	ctx := context.Background()

	if _, err := d.Send(ctx, e.target.AgentID, "ping", 3, true); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := d.Abandon(ctx, e.target.AgentID); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	pending, err := e.replies.Peek(ctx, e.target.AgentID)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending survived abandon: %+v", pending)
	}
}
