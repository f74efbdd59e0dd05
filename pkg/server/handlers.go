package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/task"
)

// Handler returns the endpoint surface shared by both listeners.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", s.handleSubmit)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /replies/pending", s.handlePendingPeek)
	mux.HandleFunc("POST /replies/pop", s.handlePendingPop)
	return mux
}

// handleSubmit accepts one envelope. Validation happens before any side
// effect. A reply envelope completes the referenced task; fresh work is
// queued (or, at priority 5, delivered immediately).
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	priority := protocol.DefaultPriority
	if raw := r.URL.Query().Get("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || !protocol.ValidPriority(p) {
			writeErr(w, http.StatusBadRequest,
				fmt.Sprintf("priority %q outside %d..%d", raw, protocol.MinPriority, protocol.MaxPriority))
			return
		}
		priority = p
	}

	var env protocol.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed envelope: "+err.Error())
		return
	}
	if env.Content == "" {
		writeErr(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	if env.IsReply() {
		s.acceptReply(w, r, env, priority)
		return
	}

	taskID := env.Meta.SenderTaskID
	if env.Meta.ResponseExpected && taskID != "" {
		// Local senders share the database, so Ensure is a no-op for them;
		// it materializes the record for senders that arrived over TCP.
		err := s.tasks.Ensure(r.Context(), protocol.Task{
			ID:               taskID,
			Sender:           env.Meta.Sender.ID,
			Receiver:         s.self.AgentID,
			Body:             env.Content,
			Priority:         priority,
			ResponseExpected: true,
			State:            protocol.TaskSubmitted,
		})
		if err != nil {
			writeMapped(w, err)
			return
		}
		superseded, err := s.replies.RegisterPending(r.Context(), s.self.AgentID, env.Meta.Sender.ID, taskID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		if superseded != "" && superseded != taskID {
			_ = s.tasks.MarkTerminal(r.Context(), superseded, protocol.TaskCanceled, "",
				"superseded by a newer request from the same sender")
			s.log(r.Context(), "superseded_canceled", superseded, "")
		}
	}

	it := item{
		taskID:   taskID,
		content:  env.Content,
		priority: priority,
		arrived:  time.Now(),
	}
	s.log(r.Context(), "received", taskID,
		fmt.Sprintf(`{"sender":%q,"priority":%d}`, env.Meta.Sender.ID, priority))

	if priority == protocol.InterruptPriority {
		// The sender has already interrupted the tool and waited out the
		// grace interval; this message must not sit behind queued work.
		s.deliver(r.Context(), it)
	} else {
		s.queue.push(it)
	}

	writeJSONStatus(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// acceptReply completes the task the envelope answers, then surfaces the
// reply text to the tool like any other inbound message.
func (s *Server) acceptReply(w http.ResponseWriter, r *http.Request, env protocol.Envelope, priority int) {
	id := env.Meta.InReplyTo
	if err := s.tasks.MarkTerminal(r.Context(), id, protocol.TaskCompleted, env.Content, ""); err != nil {
		writeMapped(w, err)
		return
	}
	s.log(r.Context(), "reply_received", id, fmt.Sprintf(`{"sender":%q}`, env.Meta.Sender.ID))
	s.clearActive(id)

	s.queue.push(item{
		taskID:   id,
		content:  env.Content,
		priority: priority,
		arrived:  time.Now(),
	})
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	out, err := s.tasks.List(r.Context(), task.Filter{Receiver: s.self.AgentID})
	if err != nil {
		writeMapped(w, err)
		return
	}
	if out == nil {
		out = []protocol.Task{}
	}
	writeJSON(w, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.queue.remove(id)
	if err := s.tasks.MarkTerminal(r.Context(), id, protocol.TaskCanceled, "", "canceled by request"); err != nil {
		writeMapped(w, err)
		return
	}
	s.log(r.Context(), "canceled", id, "")
	s.clearActive(id)
	writeJSON(w, map[string]string{"task_id": id, "state": string(protocol.TaskCanceled)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := protocol.StatusReady
	if st, err := s.reporter.ReportStatus(r.Context()); err == nil {
		status = st
	}
	writeJSON(w, statusBody{
		AgentID:    s.self.AgentID,
		Kind:       s.self.Kind,
		Status:     status,
		QueueDepth: s.queue.depth(),
		ActiveTask: s.activeTask(),
	})
}

func (s *Server) handlePendingPeek(w http.ResponseWriter, r *http.Request) {
	out, err := s.replies.Peek(r.Context(), s.self.AgentID)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if out == nil {
		out = []protocol.PendingReply{}
	}
	writeJSON(w, out)
}

func (s *Server) handlePendingPop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender string `json:"sender"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	p, err := s.replies.Pop(r.Context(), s.self.AgentID, req.Sender)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, p)
}

// statusBody mirrors the probe response consumed by the transport layer.
type statusBody struct {
	AgentID    string               `json:"agent_id"`
	Kind       string               `json:"kind"`
	Status     protocol.AgentStatus `json:"status"`
	QueueDepth int                  `json:"queue_depth"`
	ActiveTask string               `json:"active_task,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeMapped translates the typed errors into the status codes the client
// side translates back.
func writeMapped(w http.ResponseWriter, err error) {
	var (
		notFound   *protocol.NotFoundError
		validation *protocol.ValidationError
		invalid    *protocol.InvalidTransitionError
		conflict   *protocol.ConflictError
		expired    *protocol.ExpiredError
	)
	switch {
	case errors.As(err, &notFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalid), errors.As(err, &conflict):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.As(err, &expired):
		writeErr(w, http.StatusGone, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
