package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// Channel is one usable delivery path to an agent's endpoint surface. The
// same methods work over either kind; the dispatcher treats a failure here
// as "this channel is unreachable".
type Channel struct {
	Kind Kind

	base   string
	client *http.Client
}

// ProbeInfo is the status-probe response body.
type ProbeInfo struct {
	AgentID    string               `json:"agent_id"`
	Kind       string               `json:"kind"`
	Status     protocol.AgentStatus `json:"status"`
	QueueDepth int                  `json:"queue_depth"`
	ActiveTask string               `json:"active_task,omitempty"`
}

// popRequest is the body of a pending-pop call.
type popRequest struct {
	Sender string `json:"sender,omitempty"`
}

// errorBody mirrors the server's JSON error shape.
type errorBody struct {
	Error string `json:"error"`
}

// Submit delivers an envelope to the agent's task-submission endpoint.
// Priority travels out-of-band as a query parameter.
func (c *Channel) Submit(ctx context.Context, env protocol.Envelope, priority int) error {
	u := fmt.Sprintf("%s/tasks?priority=%d", c.base, priority)
	return c.do(ctx, http.MethodPost, u, env, nil)
}

// Probe fetches the agent's status summary.
func (c *Channel) Probe(ctx context.Context) (ProbeInfo, error) {
	var info ProbeInfo
	err := c.do(ctx, http.MethodGet, c.base+"/status", nil, &info)
	return info, err
}

// Task fetches one task record.
func (c *Channel) Task(ctx context.Context, id string) (protocol.Task, error) {
	var t protocol.Task
	err := c.do(ctx, http.MethodGet, c.base+"/tasks/"+url.PathEscape(id), nil, &t)
	return t, err
}

// Tasks lists the agent's task records.
func (c *Channel) Tasks(ctx context.Context) ([]protocol.Task, error) {
	var out []protocol.Task
	err := c.do(ctx, http.MethodGet, c.base+"/tasks", nil, &out)
	return out, err
}

// Cancel requests cancellation of a task.
func (c *Channel) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.base+"/tasks/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// PeekPending lists the senders awaiting a reply from this agent.
func (c *Channel) PeekPending(ctx context.Context) ([]protocol.PendingReply, error) {
	var out []protocol.PendingReply
	err := c.do(ctx, http.MethodGet, c.base+"/replies/pending", nil, &out)
	return out, err
}

// PopPending removes and returns one pending-reply entry; the latest when
// sender is empty.
func (c *Channel) PopPending(ctx context.Context, sender string) (protocol.PendingReply, error) {
	var p protocol.PendingReply
	err := c.do(ctx, http.MethodPost, c.base+"/replies/pop", popRequest{Sender: sender}, &p)
	return p, err
}

// do performs one JSON request/response round trip.
func (c *Channel) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s channel request: %w", c.Kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeError maps the server's error responses back to the typed errors the
// rest of the system discriminates on.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb errorBody
	msg := string(data)
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &protocol.NotFoundError{Kind: "resource", Target: msg}
	case http.StatusBadRequest:
		return &protocol.ValidationError{Field: "request", Reason: msg}
	case http.StatusConflict:
		return &protocol.ConflictError{Name: msg}
	case http.StatusGone:
		return &protocol.ExpiredError{Ref: msg}
	default:
		return fmt.Errorf("remote error (%d): %s", resp.StatusCode, msg)
	}
}
