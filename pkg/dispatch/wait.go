package dispatch

import (
	"context"
	"time"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// WaitForReply blocks until the task reaches a terminal state (the reply
// completes it, or delivery fails it) or the timeout elapses. The record is
// polled through the shared store, so the wait also observes terminal states
// set by other processes.
//
// On timeout the pending entry is left intact; the reply may still arrive
// later and can be collected by a subsequent poll or an explicit Abandon.
// Cancelling ctx behaves like a timeout and never retracts the delivered
// task, which the receiver may still complete independently.
func (d *Dispatcher) WaitForReply(ctx context.Context, taskID string, timeout time.Duration) (protocol.Task, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(d.waitPoll)
	defer ticker.Stop()

	for {
		t, err := d.tasks.Get(ctx, taskID)
		if err != nil {
			return protocol.Task{}, err
		}
		if t.State.Terminal() {
			return t, nil
		}
		if time.Now().After(deadline) {
			return t, ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Abandon withdraws this agent's interest in a reply from target. The
// already-delivered task is not retracted.
func (d *Dispatcher) Abandon(ctx context.Context, target string) error {
	ep, err := d.registry.Resolve(ctx, target)
	if err != nil {
		return err
	}
	return d.replies.Abandon(ctx, ep.AgentID, d.self.ID)
}
