// Package supervisor is the boundary to the process supervisor that owns
// the underlying CLI tool: interrupting it, feeding it text, and reporting
// its classified status. The heuristics that turn raw terminal output into
// status values live outside this system; these interfaces only carry their
// closed-enumeration results so the routing core never touches raw text.
package supervisor

import (
	"context"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// ErrorKind is the closed set of error classifications the process-output
// classifier can report.
type ErrorKind string

const (
	ErrNone      ErrorKind = ""
	ErrCrashed   ErrorKind = "crashed"
	ErrRateLimit ErrorKind = "rate-limited"
	ErrStalled   ErrorKind = "stalled"
)

// Interrupter preempts an agent's current activity. Implementations are
// best-effort and fire-and-forget: they must complete or time out quickly so
// the dispatcher's pre-transmit grace interval stays bounded.
type Interrupter interface {
	Interrupt(ctx context.Context, ep protocol.AgentEndpoint) error
}

// Sink delivers inbound message text to the underlying CLI tool, which has
// no networking of its own.
type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// StatusReporter exposes the classifier's view of the agent process.
type StatusReporter interface {
	ReportStatus(ctx context.Context) (protocol.AgentStatus, error)
	ReportError(ctx context.Context) (ErrorKind, error)
}

// NopInterrupter is used for agents with no supervisor pane; priority-5
// sends then degrade to ordinary delivery.
type NopInterrupter struct{}

func (NopInterrupter) Interrupt(context.Context, protocol.AgentEndpoint) error { return nil }

// NopSink discards delivered text. Useful in tests and for headless agents
// that consume their queue through the HTTP surface instead.
type NopSink struct{}

func (NopSink) Deliver(context.Context, string) error { return nil }

// StaticReporter always reports the same status. The default for agents
// without a classifier attached.
type StaticReporter struct {
	Status protocol.AgentStatus
}

func (r StaticReporter) ReportStatus(context.Context) (protocol.AgentStatus, error) {
	if r.Status == "" {
		return protocol.StatusReady, nil
	}
	return r.Status, nil
}

func (r StaticReporter) ReportError(context.Context) (ErrorKind, error) {
	return ErrNone, nil
}
