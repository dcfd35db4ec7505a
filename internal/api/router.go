package api

import (
	"net/http"
	"route-decomposition-service/internal/api/handlers"

	"go.uber.org/zap"
)

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(jobs handlers.JobService, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	jobHandler := &handlers.JobHandler{Jobs: jobs, Logger: logger}

	mux.HandleFunc("/health", jobHandler.Health)
	mux.HandleFunc("/jobs", jobHandler.Submit)
	mux.HandleFunc("/jobs/{id}", jobHandler.Job)

	return requestIDMiddleware(loggingMiddleware(mux, logger))
}
