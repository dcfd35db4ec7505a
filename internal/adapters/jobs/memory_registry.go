package jobs

import (
	"context"
	"route-decomposition-service/internal/ports"
	"sync"
)

// MemoryRegistry is a process-local registry for single-instance deployments.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]ports.JobRecord
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: map[string]ports.JobRecord{}}
}

func (r *MemoryRegistry) Get(_ context.Context, jobID string) (ports.JobRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[jobID]
	return rec, ok, nil
}

func (r *MemoryRegistry) Set(_ context.Context, jobID string, rec ports.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[jobID] = rec
	return nil
}
