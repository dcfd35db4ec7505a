package handlers

import (
	"net/http"
	"route-decomposition-service/internal/api/dto"
)

// Health reports liveness with the solver chain and the local job load.
func (h *JobHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, r, http.StatusOK, dto.HealthResponse{
		Status:  "ok",
		Solvers: h.Jobs.Solvers(),
		Running: h.Jobs.Running(),
	})
}
