package protocol

// Envelope is the wire message delivered to an agent's task-submission
// endpoint. Priority travels out-of-band as a query parameter so that
// transports can inspect it without decoding the body.
type Envelope struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Meta    Meta   `json:"metadata"`
}

// Meta carries the routing metadata attached to every envelope.
type Meta struct {
	Sender           SenderInfo `json:"sender"`
	ResponseExpected bool       `json:"response_expected"`
	// SenderTaskID identifies the sender-side task record. Present iff
	// ResponseExpected, so the receiver can correlate its eventual reply.
	SenderTaskID string `json:"sender_task_id,omitempty"`
	// InReplyTo marks this envelope as the reply to a previously sent
	// task. An envelope carrying InReplyTo completes that task instead of
	// being queued as new work.
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// SenderInfo identifies the sending agent.
type SenderInfo struct {
	ID       string `json:"sender_id"`
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint"`
}

// RoleUser is the role attached to agent-to-agent messages. The receiving
// CLI tool sees them as user input.
const RoleUser = "user"

// IsReply reports whether the envelope correlates to an earlier task.
func (e Envelope) IsReply() bool {
	return e.Meta.InReplyTo != ""
}
