package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/qexec/internal/backend/remote"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/kernels"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 8 << 20 // 8 MB, programs can be large
)

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Run `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// decodeJob reads and validates a job request and resolves its kernel. It
// writes the error response itself and reports whether the caller should
// continue.
func (s *Server) decodeJob(w http.ResponseWriter, r *http.Request) (remote.JobRequest, engine.Kernel, bool) {
	var req remote.JobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, engine.Kernel{}, false
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return req, engine.Kernel{}, false
	}

	if req.Program != nil {
		return req, remote.ProgramKernel(req), true
	}
	k, err := kernels.Lookup(req.Kernel, req.Qubits)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return req, engine.Kernel{}, false
	}
	return req, k, true
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req, k, ok := s.decodeJob(w, r)
	if !ok {
		return
	}

	run, err := s.engine.SampleRun(r.Context(), k, req.Shots, req.QPU)
	if run == nil {
		s.writeSubmitError(w, err)
		return
	}
	if err != nil {
		s.logger.Info("job failed", "run_id", run.ID, "error", err)
	}
	s.writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleAsyncJob(w http.ResponseWriter, r *http.Request) {
	req, k, ok := s.decodeJob(w, r)
	if !ok {
		return
	}

	handle, err := s.engine.SampleAsync(context.WithoutCancel(r.Context()), k, req.Shots, req.QPU)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, handle.Run())
}

// writeSubmitError maps engine submission errors to status codes.
func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "platform is shutting down")
	default:
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
