package httpapi

import "net/http"

// handlePerfLatency reports rolling per-stage latency percentiles. Metrics
// may be nil, in which case the snapshot is empty.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}
