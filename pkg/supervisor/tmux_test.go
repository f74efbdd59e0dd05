package supervisor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/supervisor"
)

// fakeRunner records every command and can fail selected subcommands.
type fakeRunner struct {
	calls [][]string
	fail  map[string]error // keyed by tmux subcommand, e.g. "has-session"
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(args) > 0 {
		if err, ok := f.fail[args[0]]; ok {
			return "", err
		}
	}
	return "", nil
}

func TestInterruptSendsEscape(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	tm := supervisor.NewTmux("synapse:0.1", runner)

	if err := tm.Interrupt(context.Background(), protocol.AgentEndpoint{}); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	want := []string{"tmux", "send-keys", "-t", "synapse:0.1", "Escape"}
	if len(runner.calls) != 1 || !equalArgs(runner.calls[0], want) {
		t.Errorf("calls = %v, want %v", runner.calls, want)
	}
}

func TestInterruptPrefersEndpointPane(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	tm := supervisor.NewTmux("default:0.0", runner)

	ep := protocol.AgentEndpoint{Pane: "other:1.2"}
	if err := tm.Interrupt(context.Background(), ep); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if got := runner.calls[0][3]; got != "other:1.2" {
		t.Errorf("pane = %q, want other:1.2", got)
	}
}

func TestInterruptWithoutPaneIsNoop(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	tm := supervisor.NewTmux("", runner)

	if err := tm.Interrupt(context.Background(), protocol.AgentEndpoint{}); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("no pane should mean no tmux call, got %v", runner.calls)
	}
}

func TestDeliverSequence(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	tm := supervisor.NewTmux("synapse:0.1", runner)

	if err := tm.Deliver(context.Background(), "line one\nline two"); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	wantSubcommands := []string{"has-session", "set-buffer", "paste-buffer", "send-keys"}
	if len(runner.calls) != len(wantSubcommands) {
		t.Fatalf("got %d calls, want %d: %v", len(runner.calls), len(wantSubcommands), runner.calls)
	}
	for i, sub := range wantSubcommands {
		if runner.calls[i][1] != sub {
			t.Errorf("call %d = %s, want %s", i, runner.calls[i][1], sub)
		}
	}

	// has-session targets the session, not the full pane.
	if got := runner.calls[0][3]; got != "synapse" {
		t.Errorf("has-session target = %q, want synapse", got)
	}
	// The pasted text is flattened to a single line.
	buffered := runner.calls[1][len(runner.calls[1])-1]
	if strings.ContainsAny(buffered, "\r\n") {
		t.Errorf("buffered text not sanitized: %q", buffered)
	}
	// The trailing Enter is a separate keystroke.
	last := runner.calls[3]
	if last[len(last)-1] != "Enter" {
		t.Errorf("final call should press Enter: %v", last)
	}
}

func TestDeliverFailsWhenSessionMissing(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{fail: map[string]error{"has-session": errors.New("no session")}}
	tm := supervisor.NewTmux("gone:0.0", runner)

	if err := tm.Deliver(context.Background(), "hello"); err == nil {
		t.Fatal("want error for missing session")
	}
	if len(runner.calls) != 1 {
		t.Errorf("delivery should stop after the session check, got %v", runner.calls)
	}
}

func TestFileReporter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := supervisor.NewFileReporter(dir)
	ctx := context.Background()

	// Missing files mean ready, no error.
	status, err := r.ReportStatus(ctx)
	if err != nil || status != protocol.StatusReady {
		t.Fatalf("empty dir: status %v err %v", status, err)
	}
	kind, err := r.ReportError(ctx)
	if err != nil || kind != supervisor.ErrNone {
		t.Fatalf("empty dir: kind %v err %v", kind, err)
	}

	writeFile := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	statusTests := []struct {
		content string
		want    protocol.AgentStatus
	}{
		{"processing\n", protocol.StatusProcessing},
		{"waiting", protocol.StatusWaiting},
		{"done", protocol.StatusDone},
		{"garbage", protocol.StatusReady},
	}
	for _, tt := range statusTests {
		writeFile("status", tt.content)
		got, err := r.ReportStatus(ctx)
		if err != nil {
			t.Fatalf("status %q: %v", tt.content, err)
		}
		if got != tt.want {
			t.Errorf("status %q = %v, want %v", tt.content, got, tt.want)
		}
	}

	writeFile("error", "rate-limited\n")
	kind, err = r.ReportError(ctx)
	if err != nil || kind != supervisor.ErrRateLimit {
		t.Errorf("error file: kind %v err %v", kind, err)
	}
}

func equalArgs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
