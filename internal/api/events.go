package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/store"
)

// sseStream writes server-sent events and flushes after each one.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func startSSE(w http.ResponseWriter) *sseStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s := &sseStream{w: w}
	s.flusher, _ = w.(http.Flusher)
	s.flush()
	return s
}

func (s *sseStream) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// send writes one event. The id line is omitted when id is empty. data must
// not contain newlines.
func (s *sseStream) send(id, event string, data []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// sendRunEvent writes ev as JSON, named by its kind and identified by its seq.
func (s *sseStream) sendRunEvent(ev model.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	return s.send(strconv.Itoa(ev.Seq), ev.Kind, data)
}

// doneEvent is the payload of the final "done" event of a stream.
type doneEvent struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// sendDone reports the run's final status and ends the stream.
func (s *sseStream) sendDone(run *model.Run) error {
	data, err := json.Marshal(doneEvent{JobID: run.ID, Status: run.Status, Error: run.Error})
	if err != nil {
		return fmt.Errorf("encode done event: %w", err)
	}
	return s.send("", "done", data)
}

// handleStreamEvents streams a job's events. A finished job has its history
// replayed. A job in flight streams live from the broker, which replays what
// was published before the subscription.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	if model.IsTerminal(run.Status) {
		s.replayEvents(w, r, run)
		return
	}

	// Long-lived stream; lift the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()
	sse := startSSE(w)

	lastSeq := -1
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				s.finishStream(r, sse, id, lastSeq)
				return
			}
			if err := sse.sendRunEvent(ev); err != nil {
				s.logger.Debug("event stream closed", "job_id", id, "error", err)
				return
			}
			lastSeq = ev.Seq
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) replayEvents(w http.ResponseWriter, r *http.Request, run *model.Run) {
	events, err := s.store.GetEvents(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("get events for replay", "job_id", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}
	sse := startSSE(w)
	for _, ev := range events {
		if err := sse.sendRunEvent(ev); err != nil {
			return
		}
	}
	_ = sse.sendDone(run)
}

// finishStream runs once the broker has closed the topic. Stored events
// after lastSeq are sent first; they exist when the run finished before the
// subscription or the tail of the stream was dropped. The done event carries
// the run's final status.
func (s *Server) finishStream(r *http.Request, sse *sseStream, id string, lastSeq int) {
	events, err := s.store.GetEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("get events after stream", "job_id", id, "error", err)
	}
	for _, ev := range events {
		if ev.Seq <= lastSeq {
			continue
		}
		if err := sse.sendRunEvent(ev); err != nil {
			return
		}
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.logger.Error("get job after stream", "job_id", id, "error", err)
		run = &model.Run{ID: id}
	}
	_ = sse.sendDone(run)
}

// eventHistoryResponse is the JSON response for GET /v1/jobs/{id}/events/history.
type eventHistoryResponse struct {
	JobID  string           `json:"job_id"`
	Events []model.RunEvent `json:"events"`
}

func (s *Server) handleGetEventHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job for event history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	events, err := s.store.GetEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("get events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}
	s.writeJSON(w, http.StatusOK, eventHistoryResponse{JobID: id, Events: events})
}
