package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"route-decomposition-service/internal/api/dto"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
	"route-decomposition-service/internal/services"
	"slices"

	"go.uber.org/zap"
)

const maxBodyBytes = 32 << 20

// JobService is the part of the job manager the HTTP layer needs.
type JobService interface {
	Synchronous(inst *domain.ProblemInstance) bool
	Submit(ctx context.Context, inst *domain.ProblemInstance) (string, error)
	SolveSync(ctx context.Context, inst *domain.ProblemInstance) (string, []*domain.Solution, error)
	Get(ctx context.Context, id string) (ports.JobRecord, error)
	Kill(ctx context.Context, id string) error
	Solvers() []string
	Running() int
}

type JobHandler struct {
	Jobs   JobService
	Logger *zap.Logger
}

// Submit answers small problems inline and queues the others.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var inst domain.ProblemInstance

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(&inst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, r, http.StatusBadRequest, "body must contain only one JSON object")
		return
	}
	if err := inst.CheckIdentifiers(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := inst.Configuration.Validate(inst.Units); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if h.Jobs.Synchronous(&inst) {
		id, sols, err := h.Jobs.SolveSync(r.Context(), &inst)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		status := ports.JobCompleted
		if slices.ContainsFunc(sols, func(s *domain.Solution) bool { return s.Status == domain.StatusKilled }) {
			status = ports.JobKilled
		}
		writeJSON(w, r, http.StatusOK, dto.JobResponse{ID: id, Status: string(status), Solutions: sols})
		return
	}

	id, err := h.Jobs.Submit(r.Context(), &inst)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, r, http.StatusAccepted, dto.JobResponse{ID: id, Status: string(ports.JobQueued)})
}

// Job serves GET (status and latest result) and DELETE (kill) on /jobs/{id}.
func (h *JobHandler) Job(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		rec, err := h.Jobs.Get(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, dto.FromRecord(rec))
	case http.MethodDelete:
		if err := h.Jobs.Kill(r.Context(), id); err != nil {
			h.fail(w, r, err)
			return
		}
		rec, err := h.Jobs.Get(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusAccepted, dto.FromRecord(rec))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *JobHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *domain.ConfigError
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		writeError(w, r, http.StatusNotFound, "job not found")
	case errors.Is(err, services.ErrJobRunsElsewhere):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &cfgErr), errors.Is(err, domain.ErrInvalidSchedule):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoApplicableSolver):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		h.Logger.Error("job request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}
