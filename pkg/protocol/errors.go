package protocol

import (
	"fmt"
	"strings"
)

// NotFoundError indicates a target (agent, task, or pending reply) that does
// not exist. It enables typed discrimination via errors.As.
type NotFoundError struct {
	Kind   string // "agent", "task", "pending reply", "spillover"
	Target string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Target)
}

// AmbiguousError indicates a bare-kind resolution that matched more than one
// live agent. It is non-fatal: the caller must retry with one of the listed
// candidate ids.
type AmbiguousError struct {
	Target     string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous target %q: candidates are %s",
		e.Target, strings.Join(e.Candidates, ", "))
}

// ConflictError indicates a uniqueness collision on registration: the custom
// name or port is already held by a different live agent.
type ConflictError struct {
	Kind   string // "custom name" or "port"
	Name   string
	HeldBy string
}

func (e *ConflictError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "resource"
	}
	if e.HeldBy == "" {
		return fmt.Sprintf("%s %q conflict", kind, e.Name)
	}
	return fmt.Sprintf("%s %q held by live agent %s", kind, e.Name, e.HeldBy)
}

// ValidationError indicates malformed caller input (priority out of range,
// empty body). Surfaced before any side effect occurs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError indicates an illegal task state change. This is a
// logic bug in the caller, fatal to the call but never to the process.
type InvalidTransitionError struct {
	TaskID string
	From   TaskState
	To     TaskState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
}

// DeliveryError indicates that a message could not be delivered. Reason
// distinguishes an unknown agent from a registered-but-unreachable one.
type DeliveryError struct {
	Target string
	Reason DeliveryReason
	Err    error // underlying transport error, if any
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery to %s failed (%s): %v", e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("delivery to %s failed (%s)", e.Target, e.Reason)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ExpiredError indicates a spillover record that has been swept or whose TTL
// elapsed before retrieval.
type ExpiredError struct {
	Ref string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("spillover record %s expired", e.Ref)
}
