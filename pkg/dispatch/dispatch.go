// Package dispatch implements the priority dispatcher, the single send path
// of the routing engine. It composes the registry, transport router, task
// lifecycle store, reply correlator, and spillover store into the public
// send/reply/wait operations, including the interrupt-then-deliver sequence
// for priority-5 messages.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/eventlog"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/registry"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/replystack"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/spillover"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/supervisor"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/task"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/transport"
)

// interruptGrace is the fixed pause between signaling the target's
// supervisor and transmitting a priority-5 message. Transmitting first
// risks the message being swallowed mid-output, so the ordering is
// mandatory; the interval is deliberately not configurable at this layer.
const interruptGrace = 500 * time.Millisecond

// DefaultWaitPoll is how often WaitForReply re-reads the task record.
const DefaultWaitPoll = 200 * time.Millisecond

// ErrWaitTimeout is returned when a reply wait elapses. The pending entry is
// left intact: the reply may still arrive and be collected by a later poll,
// unless the caller explicitly abandons it.
var ErrWaitTimeout = errors.New("timed out waiting for reply")

// Dispatcher orchestrates send timing and delivery for one sending agent.
type Dispatcher struct {
	self protocol.SenderInfo

	registry    *registry.Store
	tasks       *task.Store
	replies     *replystack.Store
	spill       *spillover.Store
	router      *transport.Router
	interrupter supervisor.Interrupter
	events      *eventlog.Log

	waitPoll time.Duration

	// sleepFunc lets tests skip the grace interval.
	sleepFunc func(time.Duration)

	// Sends to one target are serialized so two interrupt-then-send
	// sequences cannot interleave; distinct targets proceed in parallel.
	mu      sync.Mutex
	targets map[string]*sync.Mutex
}

// Deps bundles the collaborators a Dispatcher composes.
type Deps struct {
	Registry    *registry.Store
	Tasks       *task.Store
	Replies     *replystack.Store
	Spillover   *spillover.Store
	Router      *transport.Router
	Interrupter supervisor.Interrupter
	Events      *eventlog.Log
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWaitPoll overrides the reply-wait poll interval.
func WithWaitPoll(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.waitPoll = d
		}
	}
}

// WithSleepFunc overrides the grace-interval sleep (for tests).
func WithSleepFunc(sleep func(time.Duration)) Option {
	return func(dp *Dispatcher) { dp.sleepFunc = sleep }
}

// New creates a Dispatcher acting as the given sender identity.
func New(self protocol.SenderInfo, deps Deps, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		self:        self,
		registry:    deps.Registry,
		tasks:       deps.Tasks,
		replies:     deps.Replies,
		spill:       deps.Spillover,
		router:      deps.Router,
		interrupter: deps.Interrupter,
		events:      deps.Events,
		waitPoll:    DefaultWaitPoll,
		sleepFunc:   time.Sleep,
		targets:     make(map[string]*sync.Mutex),
	}
	if d.interrupter == nil {
		d.interrupter = supervisor.NopInterrupter{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers body to the named target. It resolves the target, spills an
// oversized body, creates the task record, selects a channel, performs the
// interrupt-then-transmit sequence for priority 5, registers the pending
// reply when one is expected, and returns the submitted task.
//
// Resolution and validation failures surface before any side effect. Once
// the task exists, a delivery failure is recorded on the task (state failed,
// reason unreachable) and returned as a DeliveryError.
func (d *Dispatcher) Send(ctx context.Context, target, body string, priority int, responseExpected bool) (protocol.Task, error) {
	if body == "" {
		return protocol.Task{}, &protocol.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if !protocol.ValidPriority(priority) {
		return protocol.Task{}, &protocol.ValidationError{
			Field:  "priority",
			Reason: fmt.Sprintf("%d outside %d..%d", priority, protocol.MinPriority, protocol.MaxPriority),
		}
	}

	ep, err := d.registry.Resolve(ctx, target)
	if err != nil {
		return protocol.Task{}, err
	}
	d.log(ctx, "resolve", "", ep.AgentID, fmt.Sprintf(`{"target":%q}`, target))

	wireBody := body
	spillRef := ""
	if d.spill != nil && d.spill.Oversized(body) {
		ref, pointer, err := d.spill.Store(body)
		if err != nil {
			return protocol.Task{}, fmt.Errorf("spill oversized body: %w", err)
		}
		wireBody = pointer
		spillRef = ref
		d.log(ctx, "spillover", "", ep.AgentID, fmt.Sprintf(`{"ref":%q,"bytes":%d}`, ref, len(body)))
	}

	t, err := d.tasks.Create(ctx, d.self.ID, ep.AgentID, wireBody, priority, responseExpected)
	if err != nil {
		return protocol.Task{}, err
	}
	if spillRef != "" {
		if err := d.tasks.AttachSpillRef(ctx, t.ID, spillRef); err != nil {
			return protocol.Task{}, err
		}
		t.SpillRef = spillRef
	}

	env := protocol.Envelope{
		Role:    protocol.RoleUser,
		Content: wireBody,
		Meta: protocol.Meta{
			Sender:           d.self,
			ResponseExpected: responseExpected,
		},
	}
	if responseExpected {
		env.Meta.SenderTaskID = t.ID
	}

	if err := d.transmit(ctx, ep, env, priority, t.ID); err != nil {
		_ = d.tasks.MarkTerminal(ctx, t.ID, protocol.TaskFailed, "", string(protocol.ReasonUnreachable))
		d.log(ctx, "transmit_failed", t.ID, ep.AgentID, fmt.Sprintf(`{"error":%q}`, err.Error()))
		return protocol.Task{}, &protocol.DeliveryError{
			Target: ep.AgentID,
			Reason: protocol.ReasonUnreachable,
			Err:    err,
		}
	}

	if responseExpected {
		superseded, err := d.replies.RegisterPending(ctx, ep.AgentID, d.self.ID, t.ID)
		if err != nil {
			return protocol.Task{}, fmt.Errorf("register pending reply: %w", err)
		}
		d.log(ctx, "pending_registered", t.ID, ep.AgentID, "")
		if superseded != "" {
			// The overwritten question would otherwise dangle forever.
			_ = d.tasks.MarkTerminal(ctx, superseded, protocol.TaskCanceled, "",
				"superseded by a newer request from the same sender")
			d.log(ctx, "superseded_canceled", superseded, ep.AgentID, "")
		}
	}

	if err := d.tasks.MarkSubmitted(ctx, t.ID); err != nil {
		return protocol.Task{}, err
	}
	return d.tasks.Get(ctx, t.ID)
}

// transmit runs the serialized per-target delivery sequence: optional
// interrupt plus grace for priority 5, then the channel write with the
// local-first, network-second, give-up policy.
func (d *Dispatcher) transmit(ctx context.Context, ep protocol.AgentEndpoint, env protocol.Envelope, priority int, taskID string) error {
	lock := d.targetLock(ep.AgentID)
	lock.Lock()
	defer lock.Unlock()

	// Channel probing performs I/O; it runs under the per-target lock
	// only, never a registry lock.
	ch := d.router.Select(ep.SocketPath, ep.Port)

	if priority == protocol.InterruptPriority {
		if err := d.interrupter.Interrupt(ctx, ep); err != nil {
			// Best-effort: a failed interrupt downgrades to ordinary
			// delivery rather than losing the message.
			d.log(ctx, "interrupt_failed", taskID, ep.AgentID, fmt.Sprintf(`{"error":%q}`, err.Error()))
		} else {
			d.log(ctx, "interrupt_sent", taskID, ep.AgentID, "")
		}
		d.sleepFunc(interruptGrace)
	}

	err := ch.Submit(ctx, env, priority)
	if err != nil && ch.Kind == transport.KindLocal {
		// One fallback: the socket probe passed but the write failed
		// (e.g. the peer restarted in between). Try the network path.
		d.log(ctx, "local_channel_failed", taskID, ep.AgentID, fmt.Sprintf(`{"error":%q}`, err.Error()))
		ch = d.router.Network(ep.Port)
		err = ch.Submit(ctx, env, priority)
	}
	if err != nil {
		return err
	}
	d.log(ctx, "transmit", taskID, ep.AgentID, fmt.Sprintf(`{"channel":%q,"priority":%d}`, ch.Kind, priority))
	return nil
}

// targetLock returns the serialization lock for one target agent.
func (d *Dispatcher) targetLock(agentID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.targets[agentID]
	if !ok {
		lock = &sync.Mutex{}
		d.targets[agentID] = lock
	}
	return lock
}

// log appends to the routing event log, best-effort.
func (d *Dispatcher) log(ctx context.Context, eventType, taskID, agentID, payload string) {
	if d.events == nil {
		return
	}
	_ = d.events.Record(ctx, eventType, d.self.ID, taskID, agentID, payload)
}
