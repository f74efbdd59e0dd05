// Package protocol defines the shared vocabulary of the Synapse routing
// system: agent endpoints, task records and their state machine, the wire
// envelope, priority rules, typed errors, and the SQLite schema that all
// local synapse processes share.
package protocol

import (
	"fmt"
	"time"
)

// Priority bounds. Priority is carried out-of-band (a transport-level query
// parameter), never inside the envelope body.
const (
	MinPriority = 1
	MaxPriority = 5

	// DefaultPriority is used when the caller does not specify one.
	DefaultPriority = 3

	// InterruptPriority preempts the target's current activity with an
	// out-of-band signal before delivery.
	InterruptPriority = 5
)

// ValidPriority reports whether p is inside the accepted 1..5 range.
func ValidPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}

// AgentEndpoint is one entry in the agent registry: a live, addressable
// agent process.
type AgentEndpoint struct {
	AgentID       string    `json:"agent_id"`    // "<kind>-<port>", globally unique
	Kind          string    `json:"kind"`        // agent category, e.g. "claude"
	CustomName    string    `json:"custom_name"` // optional alias, unique, highest resolution precedence
	Port          int       `json:"port"`        // unique per host
	SocketPath    string    `json:"socket_path"` // local channel address
	WorkingDir    string    `json:"working_dir"`
	PID           int       `json:"pid"`            // owning process; liveness probe target
	Pane          string    `json:"pane,omitempty"` // tmux pane target for the process supervisor
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// AgentID builds the canonical "<kind>-<port>" identifier.
func AgentID(kind string, port int) string {
	return fmt.Sprintf("%s-%d", kind, port)
}

// URL returns the endpoint's network base URL.
func (e AgentEndpoint) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", e.Port)
}

// TaskState represents a task's position in its lifecycle.
type TaskState string

// Task lifecycle states. InputRequired is the only non-terminal state a
// working task can leave and later re-enter working from.
const (
	TaskCreated       TaskState = "created"
	TaskSubmitted     TaskState = "submitted"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input-required"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCanceled      TaskState = "canceled"
)

// Terminal reports whether s is a terminal state. Terminal tasks are
// immutable.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCanceled
}

// Valid reports whether s is one of the known task states.
func (s TaskState) Valid() bool {
	switch s {
	case TaskCreated, TaskSubmitted, TaskWorking, TaskInputRequired,
		TaskCompleted, TaskFailed, TaskCanceled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the edge from -> to is allowed by the task
// state machine:
//
//	created -> submitted -> working -> {completed, failed, canceled, input-required}
//	input-required -> working
//
// Cancellation and failure are additionally allowed from any non-terminal
// state so that delivery failures and caller cancellation can settle a task
// that never reached working.
func CanTransition(from, to TaskState) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case TaskSubmitted:
		return from == TaskCreated
	case TaskWorking:
		return from == TaskSubmitted || from == TaskInputRequired
	case TaskInputRequired:
		return from == TaskWorking
	case TaskCompleted:
		// A reply can complete a task that the receiver never reported
		// progress on; submitted -> completed is a legal fast path.
		return from == TaskSubmitted || from == TaskWorking
	case TaskFailed, TaskCanceled:
		return true // any non-terminal state
	default:
		return false
	}
}

// Task is one unit of work exchanged between two agents. The sender creates
// the record before transmission; the receiver mutates it as it reports
// progress; once terminal it is retained read-only.
type Task struct {
	ID               string    `json:"id"`
	Sender           string    `json:"sender"`
	Receiver         string    `json:"receiver"`
	Body             string    `json:"body"` // message text, or pointer text when spilled
	SpillRef         string    `json:"spill_ref,omitempty"`
	Priority         int       `json:"priority"`
	ResponseExpected bool      `json:"response_expected"`
	State            TaskState `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	Result           string    `json:"result,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// PendingReply is one reply-stack entry: sender is awaiting a reply from
// receiver for the given task.
type PendingReply struct {
	Receiver     string    `json:"receiver"`
	Sender       string    `json:"sender"`
	TaskID       string    `json:"task_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// DeliveryReason classifies why a delivery could not happen. The remediation
// differs: a missing agent needs restarting, an unreachable one needs its
// process investigated.
type DeliveryReason string

const (
	ReasonNoSuchAgent DeliveryReason = "no-such-agent" // never registered, or evicted as stale
	ReasonUnreachable DeliveryReason = "unreachable"   // registered but both transports failed
)

// AgentStatus is the closed enumeration the process-output classifier
// reports through the supervisor boundary. The routing core consumes these
// values; it never parses raw terminal text.
type AgentStatus string

const (
	StatusReady      AgentStatus = "ready"
	StatusProcessing AgentStatus = "processing"
	StatusWaiting    AgentStatus = "waiting"
	StatusDone       AgentStatus = "done"
)

