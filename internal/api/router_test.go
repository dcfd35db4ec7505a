package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"route-decomposition-service/internal/api/dto"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
	"route-decomposition-service/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	sync    bool
	records map[string]ports.JobRecord
	killed  []string
	err     error
}

func (f *fakeJobs) Synchronous(*domain.ProblemInstance) bool { return f.sync }

func (f *fakeJobs) Submit(_ context.Context, inst *domain.ProblemInstance) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.records["job-1"] = ports.JobRecord{ID: "job-1", Status: ports.JobQueued}
	return "job-1", nil
}

func (f *fakeJobs) SolveSync(_ context.Context, inst *domain.ProblemInstance) (string, []*domain.Solution, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return "job-2", []*domain.Solution{domain.UnassignedSolution(inst, domain.ReasonNotPlanned)}, nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (ports.JobRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return ports.JobRecord{}, fmt.Errorf("get job %s: %w", id, services.ErrJobNotFound)
	}
	return rec, nil
}

func (f *fakeJobs) Solvers() []string { return []string{"vroom", "local"} }

func (f *fakeJobs) Running() int { return len(f.killed) }

func (f *fakeJobs) Kill(_ context.Context, id string) error {
	if _, ok := f.records[id]; !ok {
		return fmt.Errorf("kill job %s: %w", id, services.ErrJobNotFound)
	}
	f.killed = append(f.killed, id)
	return nil
}

const body = `{"missions":[{"id":"m1","location_id":"a","duration":60}],"resources":[{"id":"r1"}],"locations":[{"id":"a","coordinates":{"lon":2.35,"lat":48.85}}],"configuration":{"resolution":{"allow_partial_assignment":true}}}`

func do(t *testing.T, h http.Handler, method, path, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewRouter(&fakeJobs{}, nil)
	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","solvers":["vroom","local"],"running":0}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSubmit_Async(t *testing.T) {
	jobs := &fakeJobs{records: map[string]ports.JobRecord{}}
	h := NewRouter(jobs, nil)

	rec := do(t, h, http.MethodPost, "/jobs", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/jobs/job-1", rec.Header().Get("Location"))

	var res dto.JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "queued", res.Status)

	rec = do(t, h, http.MethodGet, "/jobs/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/jobs/job-1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"job-1"}, jobs.killed)
}

func TestSubmit_Sync(t *testing.T) {
	h := NewRouter(&fakeJobs{sync: true, records: map[string]ports.JobRecord{}}, nil)

	rec := do(t, h, http.MethodPost, "/jobs", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var res dto.JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "job-2", res.ID)
	assert.Equal(t, "completed", res.Status)
	require.Len(t, res.Solutions, 1)
	assert.Len(t, res.Solutions[0].Unassigned, 1)
}

func TestSubmit_Rejections(t *testing.T) {
	h := NewRouter(&fakeJobs{records: map[string]ports.JobRecord{}}, nil)

	tests := []struct {
		name    string
		method  string
		payload string
		code    int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest},
		{"unknown field", http.MethodPost, `{"trucks": 3}`, http.StatusBadRequest},
		{"two objects", http.MethodPost, body + body, http.StatusBadRequest},
		{"missing id", http.MethodPost, `{"missions":[{"location_id":"a"}]}`, http.StatusBadRequest},
		{"unknown partition", http.MethodPost, `{"configuration":{"preprocessing":{"partitions":[{"method":"spectral"}]}}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, "/jobs", tt.payload)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestJob_NotFoundAndNoSolver(t *testing.T) {
	h := NewRouter(&fakeJobs{records: map[string]ports.JobRecord{}}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/jobs/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/jobs/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPut, "/jobs/nope", "").Code)

	h = NewRouter(&fakeJobs{sync: true, err: fmt.Errorf("solve: %w", domain.ErrNoApplicableSolver)}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodPost, "/jobs", body).Code)
}
