package api

import "net/http"

// Health status values.
const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

// healthResponse reports whether the service can accept jobs.
type healthResponse struct {
	Status     string `json:"status"`
	QPUs       int    `json:"qpus"`
	RemoteQPUs int    `json:"remote_qpus"`
	Store      string `json:"store"`
	Error      string `json:"error,omitempty"`
}

// handleHealthz answers 200 while the platform is open and the store
// responds, and 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	p := s.engine.Platform()
	resp := healthResponse{Status: healthOK, QPUs: p.NumQPUs(), Store: healthOK}
	for _, q := range p.List() {
		if q.Capabilities.Remote {
			resp.RemoteQPUs++
		}
	}

	if _, _, err := s.store.ListRuns(r.Context(), 1, 0); err != nil {
		s.logger.Warn("healthz store check failed", "error", err)
		resp.Store = "unavailable"
		resp.Status = healthDegraded
		resp.Error = "store unavailable"
	}
	if p.Closed() {
		resp.Status = healthDegraded
		resp.Error = "platform closed"
	}

	status := http.StatusOK
	if resp.Status != healthOK {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
