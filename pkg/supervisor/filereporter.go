package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// FileReporter reads the classifier's output from files under the agent's
// state directory. The out-of-scope classifier (a terminal-output watcher)
// writes a `status` file containing one of the AgentStatus values and an
// `error` file containing an ErrorKind; the serve loop polls this reporter
// to drive the task state machine. Missing files mean "ready, no error",
// which is the correct default for a freshly started agent.
type FileReporter struct {
	dir string
}

// NewFileReporter creates a FileReporter rooted at the agent's state dir.
func NewFileReporter(dir string) *FileReporter {
	return &FileReporter{dir: dir}
}

// ReportStatus returns the classified agent status.
func (r *FileReporter) ReportStatus(context.Context) (protocol.AgentStatus, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, "status")) //nolint:gosec // dir is the agent's own state dir
	if err != nil {
		if os.IsNotExist(err) {
			return protocol.StatusReady, nil
		}
		return protocol.StatusReady, err
	}
	switch s := protocol.AgentStatus(strings.TrimSpace(string(data))); s {
	case protocol.StatusReady, protocol.StatusProcessing, protocol.StatusWaiting, protocol.StatusDone:
		return s, nil
	default:
		// Unknown classifier output degrades to ready rather than
		// poisoning the state machine.
		return protocol.StatusReady, nil
	}
}

// ReportError returns the classified error kind, ErrNone when the file is
// absent or empty.
func (r *FileReporter) ReportError(context.Context) (ErrorKind, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, "error")) //nolint:gosec // dir is the agent's own state dir
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNone, nil
		}
		return ErrNone, err
	}
	switch k := ErrorKind(strings.TrimSpace(string(data))); k {
	case ErrCrashed, ErrRateLimit, ErrStalled:
		return k, nil
	default:
		return ErrNone, nil
	}
}
