// Package server implements the per-agent endpoint surface: a small JSON
// HTTP API served simultaneously on a loopback TCP port and a Unix domain
// socket. Both listeners share one handler, so a message behaves the same
// whichever channel carried it. The server owns the receiver-side priority
// queue and the status loop that mirrors the supervised process's state
// onto task records.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/eventlog"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/registry"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/replystack"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/supervisor"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/task"
)

// DefaultStatusPoll is how often the status loop consults the reporter.
const DefaultStatusPoll = time.Second

// shutdownTimeout bounds the drain of in-flight requests on stop.
const shutdownTimeout = 5 * time.Second

// Server is one agent's endpoint surface plus its delivery machinery.
type Server struct {
	self protocol.AgentEndpoint

	tasks    *task.Store
	replies  *replystack.Store
	events   *eventlog.Log
	sink     supervisor.Sink
	reporter supervisor.StatusReporter

	queue      *queue
	statusPoll time.Duration

	// sinkMu serializes sink access: the delivery loop and the
	// priority-5 inline path both paste through one shared tmux buffer,
	// so two deliveries must never overlap.
	sinkMu sync.Mutex

	mu     sync.Mutex
	active string // task id last handed to the tool, until terminal
}

// Deps bundles the collaborators a Server composes.
type Deps struct {
	Tasks    *task.Store
	Replies  *replystack.Store
	Events   *eventlog.Log
	Sink     supervisor.Sink
	Reporter supervisor.StatusReporter
}

// Option configures a Server.
type Option func(*Server)

// WithStatusPoll overrides the status-loop interval.
func WithStatusPoll(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.statusPoll = d
		}
	}
}

// New creates a Server for the given endpoint identity.
func New(self protocol.AgentEndpoint, deps Deps, opts ...Option) *Server {
	s := &Server{
		self:       self,
		tasks:      deps.Tasks,
		replies:    deps.Replies,
		events:     deps.Events,
		sink:       deps.Sink,
		reporter:   deps.Reporter,
		queue:      newQueue(),
		statusPoll: DefaultStatusPoll,
	}
	if s.sink == nil {
		s.sink = supervisor.NopSink{}
	}
	if s.reporter == nil {
		s.reporter = supervisor.StaticReporter{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves until ctx is cancelled. It binds the TCP port and the Unix
// socket, then runs the delivery and status loops. The socket file is
// removed on shutdown.
func (s *Server) Run(ctx context.Context) error {
	tcpLn, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.self.Port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", s.self.Port, err)
	}

	var udsLn net.Listener
	if s.self.SocketPath != "" {
		if err := cleanStaleSocket(s.self.SocketPath); err != nil {
			_ = tcpLn.Close()
			return err
		}
		udsLn, err = net.Listen("unix", s.self.SocketPath)
		if err != nil {
			_ = tcpLn.Close()
			return fmt.Errorf("bind socket %s: %w", s.self.SocketPath, err)
		}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Serve(tcpLn) }()
	if udsLn != nil {
		go func() { errCh <- srv.Serve(udsLn) }()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.deliverLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.statusLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errCh:
		if err == http.ErrServerClosed {
			err = nil
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	if s.self.SocketPath != "" {
		_ = os.Remove(s.self.SocketPath)
	}
	wg.Wait()
	return err
}

// cleanStaleSocket removes a leftover socket file from a dead process. A
// socket that still accepts connections belongs to a live server, which is
// a hard error rather than something to steal.
func cleanStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, 250*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("socket %s is in use", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}

// deliverLoop drains the queue in priority order, feeding each item to the
// sink one at a time. The tool consumes its input serially, so there is
// exactly one delivery in flight.
func (s *Server) deliverLoop(ctx context.Context) {
	for {
		for {
			it, ok := s.queue.pop()
			if !ok {
				break
			}
			s.deliver(ctx, it)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.queue.wake:
		}
	}
}

// deliver hands one item to the sink and mirrors the hand-off onto the task
// record when the item is tracked. Deliveries run one at a time: a
// priority-5 arrival entering through the submit handler waits for any
// in-flight queued delivery before touching the sink.
func (s *Server) deliver(ctx context.Context, it item) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()

	if it.taskID != "" {
		s.setActive(it.taskID)
		// Replies arrive already terminal; only fresh work moves to working.
		if t, err := s.tasks.Get(ctx, it.taskID); err == nil && !t.State.Terminal() {
			_ = s.tasks.MarkWorking(ctx, it.taskID)
		}
	}
	if err := s.sink.Deliver(ctx, it.content); err != nil {
		s.log(ctx, "sink_failed", it.taskID, fmt.Sprintf(`{"error":%q}`, err.Error()))
		if it.taskID != "" {
			_ = s.tasks.MarkTerminal(ctx, it.taskID, protocol.TaskFailed, "", "delivery to tool failed")
			s.clearActive(it.taskID)
		}
		return
	}
	s.log(ctx, "delivered", it.taskID, fmt.Sprintf(`{"priority":%d}`, it.priority))
}

// statusLoop polls the reporter and moves the active task along the
// lifecycle: waiting maps to input-required and processing resumes working.
// Idle never completes a task here: every tracked task expects a reply
// (fire-and-forget envelopes carry no task id to track), so the reply
// envelope is what closes the record.
func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(s.statusPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncStatus(ctx)
		}
	}
}

func (s *Server) syncStatus(ctx context.Context) {
	id := s.activeTask()
	if id == "" {
		return
	}
	t, err := s.tasks.Get(ctx, id)
	if err != nil || t.State.Terminal() {
		s.clearActive(id)
		return
	}

	if kind, err := s.reporter.ReportError(ctx); err == nil && kind != supervisor.ErrNone {
		_ = s.tasks.MarkTerminal(ctx, id, protocol.TaskFailed, "", string(kind))
		s.log(ctx, "task_failed", id, fmt.Sprintf(`{"kind":%q}`, kind))
		s.clearActive(id)
		return
	}

	status, err := s.reporter.ReportStatus(ctx)
	if err != nil {
		return
	}
	// Done and Ready are ignored: the result travels back as a reply
	// envelope, and completing here would close the record with none.
	switch status {
	case protocol.StatusWaiting:
		if t.State == protocol.TaskWorking {
			_ = s.tasks.MarkInputRequired(ctx, id)
		}
	case protocol.StatusProcessing:
		if t.State == protocol.TaskInputRequired {
			_ = s.tasks.MarkWorking(ctx, id)
		}
	}
}

func (s *Server) setActive(id string) {
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
}

func (s *Server) clearActive(id string) {
	s.mu.Lock()
	if s.active == id {
		s.active = ""
	}
	s.mu.Unlock()
}

func (s *Server) activeTask() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// log appends to the routing event log, best-effort.
func (s *Server) log(ctx context.Context, eventType, taskID, payload string) {
	if s.events == nil {
		return
	}
	_ = s.events.Record(ctx, eventType, s.self.AgentID, taskID, s.self.AgentID, payload)
}

// Heartbeats keeps the agent's registry row fresh until ctx is cancelled.
// It is run alongside Run by the serve command.
func Heartbeats(ctx context.Context, reg *registry.Store, agentID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = reg.Heartbeat(ctx, agentID)
		}
	}
}

// SweepRegistry periodically evicts dead registry entries.
func SweepRegistry(ctx context.Context, reg *registry.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = reg.Sweep(ctx)
		}
	}
}
