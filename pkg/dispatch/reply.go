package dispatch

import (
	"context"
	"fmt"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// Reply answers an earlier request delivered to this agent. The correlation
// target is resolved through the reply stack: with an explicit task id the
// matching entry is consumed, otherwise the most recent one. When the
// resolution comes back uncorrelated (the id went stale, or the original
// request never expected a response), the content is resent as a new,
// uncorrelated message instead of being dropped or surfaced as an error.
func (d *Dispatcher) Reply(ctx context.Context, body, explicitTaskID string) (protocol.Task, error) {
	if body == "" {
		return protocol.Task{}, &protocol.ValidationError{Field: "body", Reason: "must not be empty"}
	}

	res, err := d.replies.ResolveReplyTarget(ctx, d.self.ID, explicitTaskID)
	if err != nil {
		return protocol.Task{}, err
	}

	if !res.Correlated {
		return d.replyUncorrelated(ctx, body, explicitTaskID)
	}

	ep, err := d.registry.Resolve(ctx, res.Sender)
	if err != nil {
		return protocol.Task{}, err
	}

	wireBody := body
	if d.spill != nil && d.spill.Oversized(body) {
		_, pointer, serr := d.spill.Store(body)
		if serr != nil {
			return protocol.Task{}, fmt.Errorf("spill oversized reply: %w", serr)
		}
		wireBody = pointer
	}

	env := protocol.Envelope{
		Role:    protocol.RoleUser,
		Content: wireBody,
		Meta: protocol.Meta{
			Sender:    d.self,
			InReplyTo: res.TaskID,
		},
	}
	if err := d.transmit(ctx, ep, env, protocol.DefaultPriority, res.TaskID); err != nil {
		return protocol.Task{}, &protocol.DeliveryError{
			Target: ep.AgentID,
			Reason: protocol.ReasonUnreachable,
			Err:    err,
		}
	}
	d.log(ctx, "reply_sent", res.TaskID, ep.AgentID, "")

	return d.tasks.Get(ctx, res.TaskID)
}

// replyUncorrelated is the stale-correlation failsafe: the reply content is
// delivered as a fresh message to the original requester, derived from the
// stale task record. Without a task record there is no one to deliver to.
func (d *Dispatcher) replyUncorrelated(ctx context.Context, body, explicitTaskID string) (protocol.Task, error) {
	if explicitTaskID == "" {
		return protocol.Task{}, &protocol.NotFoundError{Kind: "pending reply", Target: d.self.ID}
	}
	orig, err := d.tasks.Get(ctx, explicitTaskID)
	if err != nil {
		return protocol.Task{}, err
	}
	d.log(ctx, "reply_uncorrelated", explicitTaskID, orig.Sender, "")
	return d.Send(ctx, orig.Sender, body, protocol.DefaultPriority, false)
}
