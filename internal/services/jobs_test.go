package services

import (
	"context"
	"testing"
	"time"

	"route-decomposition-service/internal/adapters/jobs"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJobManager(gw *stubGateway) (*JobManager, *jobs.MemoryRegistry) {
	o, _, _ := newTestOrchestrator(DefaultOrchestratorConfig(), gw)
	reg := jobs.NewMemoryRegistry()
	return NewJobManager(o, reg, nil, nil), reg
}

func TestJobManager_SubmitCompletes(t *testing.T) {
	m, _ := newTestJobManager(&stubGateway{})
	ctx := context.Background()

	id, err := m.Submit(ctx, skillInstance())
	require.NoError(t, err)
	require.NoError(t, m.Wait(ctx, id))

	rec, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.JobCompleted, rec.Status)
	require.Len(t, rec.Solutions, 1)
	assert.Equal(t, 6, rec.Solutions[0].AssignedCount())
	assert.Len(t, rec.Handles, 1)
}

func TestJobManager_KillRunningJob(t *testing.T) {
	started := make(chan struct{})
	gw := &stubGateway{solve: func(ctx context.Context, inst *domain.ProblemInstance, _ int) (*domain.Solution, error) {
		close(started)
		<-ctx.Done()
		sol := domain.UnassignedSolution(inst, domain.ReasonJobKilled)
		sol.Status = domain.StatusKilled
		return sol, nil
	}}
	m, _ := newTestJobManager(gw)
	ctx := context.Background()

	id, err := m.Submit(ctx, skillInstance())
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("solver never started")
	}

	rec, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.JobWorking, rec.Status)
	assert.Equal(t, 1, m.Running())
	assert.Equal(t, []string{"local"}, m.Solvers())

	require.NoError(t, m.Kill(ctx, id))
	require.NoError(t, m.Wait(ctx, id))
	assert.Zero(t, m.Running())

	rec, err = m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.JobKilled, rec.Status)
	assert.Equal(t, domain.StatusKilled, rec.Solutions[0].Status)
}

func TestJobManager_KillForeignJob(t *testing.T) {
	m, reg := newTestJobManager(&stubGateway{})
	ctx := context.Background()
	require.NoError(t, reg.Set(ctx, "other", ports.JobRecord{ID: "other", Status: ports.JobWorking, Handles: []string{"elsewhere/1"}}))
	require.NoError(t, reg.Set(ctx, "done", ports.JobRecord{ID: "done", Status: ports.JobCompleted, Handles: []string{"elsewhere/1"}}))

	assert.ErrorIs(t, m.Kill(ctx, "other"), ErrJobRunsElsewhere)
	assert.NoError(t, m.Kill(ctx, "done"))
	assert.ErrorIs(t, m.Kill(ctx, "missing"), ErrJobNotFound)
}

func TestJobManager_SolveSyncAndFailure(t *testing.T) {
	m, _ := newTestJobManager(&stubGateway{sync: true})
	ctx := context.Background()

	inst := skillInstance()
	assert.True(t, m.Synchronous(inst))

	id, sols, err := m.SolveSync(ctx, inst)
	require.NoError(t, err)
	require.Len(t, sols, 1)
	rec, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.JobCompleted, rec.Status)

	failing, _ := newTestJobManager(&stubGateway{reasons: []string{"nope"}})
	id, _, err = failing.SolveSync(ctx, inst)
	assert.ErrorIs(t, err, domain.ErrNoApplicableSolver)
	rec, err = failing.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.JobFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
	assert.False(t, failing.Synchronous(inst))
}

func TestJobManager_ProgressStoresMessages(t *testing.T) {
	m, reg := newTestJobManager(&stubGateway{})
	ctx := context.Background()

	id, err := m.Submit(ctx, skillInstance())
	require.NoError(t, err)
	require.NoError(t, m.Wait(ctx, id))

	rec, ok, err := reg.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stub call 1", rec.Message)
}

func TestJobManager_Shutdown(t *testing.T) {
	gw := &stubGateway{solve: func(ctx context.Context, inst *domain.ProblemInstance, _ int) (*domain.Solution, error) {
		<-ctx.Done()
		sol := domain.UnassignedSolution(inst, domain.ReasonJobKilled)
		sol.Status = domain.StatusKilled
		return sol, nil
	}}
	m, _ := newTestJobManager(gw)
	ctx := context.Background()

	id, err := m.Submit(ctx, skillInstance())
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	rec, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.JobKilled, rec.Status)
}
