package ports

import (
	"context"
	"route-decomposition-service/internal/domain"
	"time"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobWorking   JobStatus = "working"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobKilled    JobStatus = "killed"
)

// JobRecord is what the registry keeps for a job: the handles of the
// processes working on it and its latest partial result.
type JobRecord struct {
	ID        string             `json:"id"`
	Status    JobStatus          `json:"status"`
	Handles   []string           `json:"handles,omitempty"`
	Message   string             `json:"message,omitempty"`
	Error     string             `json:"error,omitempty"`
	Solutions []*domain.Solution `json:"solutions,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// JobRegistry is a key-value store of job records.
type JobRegistry interface {
	Get(ctx context.Context, jobID string) (JobRecord, bool, error)
	Set(ctx context.Context, jobID string, rec JobRecord) error
}

// ProblemRepository persists submitted instances.
type ProblemRepository interface {
	SaveProblem(ctx context.Context, jobID string, inst *domain.ProblemInstance) error
	LoadProblem(ctx context.Context, jobID string) (*domain.ProblemInstance, error)
}
