package dto

import (
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
	"time"
)

// JobResponse is returned by every /jobs endpoint.
type JobResponse struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	Message   string             `json:"message,omitempty"`
	Error     string             `json:"error,omitempty"`
	Solutions []*domain.Solution `json:"solutions,omitempty"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

func FromRecord(rec ports.JobRecord) JobResponse {
	res := JobResponse{
		ID:        rec.ID,
		Status:    string(rec.Status),
		Message:   rec.Message,
		Error:     rec.Error,
		Solutions: rec.Solutions,
	}
	if !rec.UpdatedAt.IsZero() {
		t := rec.UpdatedAt
		res.UpdatedAt = &t
	}
	return res
}

type HealthResponse struct {
	Status  string   `json:"status"`
	Solvers []string `json:"solvers"`
	Running int      `json:"running"`
}
