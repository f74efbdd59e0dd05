package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// bufferName is the named tmux buffer used for literal-text delivery.
const bufferName = "synapse-deliver"

// Tmux drives an agent's tmux pane. It implements both Interrupter (Escape
// keystroke ahead of an urgent delivery) and Sink (pasting inbound message
// text as if the user had typed it).
type Tmux struct {
	pane   string // e.g. "synapse:0.1"
	runner CommandRunner
}

// NewTmux creates a Tmux supervisor for the given pane target.
func NewTmux(pane string, runner CommandRunner) *Tmux {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &Tmux{pane: pane, runner: runner}
}

// Interrupt sends Escape to the pane, preempting whatever the CLI tool is
// mid-way through. Best-effort: the caller does not depend on a result,
// only on the call returning quickly.
func (t *Tmux) Interrupt(ctx context.Context, ep protocol.AgentEndpoint) error {
	pane := t.pane
	if ep.Pane != "" {
		pane = ep.Pane
	}
	if pane == "" {
		return nil
	}
	if _, err := t.runner.Run(ctx, "tmux", "send-keys", "-t", pane, "Escape"); err != nil {
		return fmt.Errorf("tmux send-keys Escape to %s: %w", pane, err)
	}
	return nil
}

// Deliver pastes text into the pane via `tmux set-buffer` and
// `paste-buffer`. This approach treats the message as completely literal
// text, preventing shell injection through tmux. The session is verified
// first: a dead session makes send-keys fail silently, leaving messages
// undelivered with no trace.
func (t *Tmux) Deliver(ctx context.Context, text string) error {
	session := t.pane
	if i := strings.IndexByte(session, ':'); i > 0 {
		session = session[:i]
	}
	if _, err := t.runner.Run(ctx, "tmux", "has-session", "-t", session); err != nil {
		return fmt.Errorf("tmux session %s not found: %w", session, err)
	}

	sanitized := sanitizeForTmux(text)

	if _, err := t.runner.Run(ctx, "tmux", "set-buffer", "-b", bufferName, sanitized); err != nil {
		return fmt.Errorf("tmux set-buffer: %w", err)
	}
	if _, err := t.runner.Run(ctx, "tmux", "paste-buffer", "-b", bufferName, "-t", t.pane, "-d"); err != nil {
		return fmt.Errorf("tmux paste-buffer to %s: %w", t.pane, err)
	}
	if _, err := t.runner.Run(ctx, "tmux", "send-keys", "-t", t.pane, "Enter"); err != nil {
		return fmt.Errorf("tmux send-keys Enter to %s: %w", t.pane, err)
	}
	return nil
}

// sanitizeForTmux flattens the message to a single line so it cannot span
// multiple prompt lines in the agent's terminal.
func sanitizeForTmux(msg string) string {
	msg = strings.ReplaceAll(msg, "\r", " ")
	return strings.ReplaceAll(msg, "\n", " ")
}
