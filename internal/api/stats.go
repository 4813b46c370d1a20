package api

import (
	"net/http"
	"strconv"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByQPU         map[string]int `json:"by_qpu"`
	ByPath        map[string]int `json:"by_path"`
	TotalShots    int            `json:"total_shots"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	byQPU := make(map[string]int, len(stats.CountByQPU))
	for id, n := range stats.CountByQPU {
		byQPU[strconv.Itoa(id)] = n
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByQPU:         byQPU,
		ByPath:        stats.CountByPath,
		TotalShots:    stats.TotalShots,
		AvgDurationMS: stats.AvgDurationMS,
	})
}
