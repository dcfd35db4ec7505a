package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobRunsElsewhere = errors.New("job runs in another process")
)

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// JobManager runs submissions in the background and mirrors their state in a
// job registry. Kill cancels the job context; the orchestrator then returns
// the partial solutions with status killed.
type JobManager struct {
	orch     *Orchestrator
	registry ports.JobRegistry
	problems ports.ProblemRepository
	logger   *zap.Logger
	handle   string

	mu      sync.Mutex
	running map[string]*runningJob
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewJobManager builds a manager. problems may be nil.
func NewJobManager(orch *Orchestrator, registry ports.JobRegistry, problems ports.ProblemRepository, logger *zap.Logger) *JobManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	host, _ := os.Hostname()
	return &JobManager{
		orch:     orch,
		registry: registry,
		problems: problems,
		logger:   logger,
		handle:   fmt.Sprintf("%s/%d", host, os.Getpid()),
		running:  map[string]*runningJob{},
		now:      time.Now,
	}
}

// Synchronous reports whether inst should be answered inline.
func (m *JobManager) Synchronous(inst *domain.ProblemInstance) bool {
	g, err := m.orch.Gateway(inst)
	return err == nil && g.SolveSynchronous(inst)
}

func (m *JobManager) Solvers() []string { return m.orch.Solvers() }

// Running counts the jobs this process is solving in the background.
func (m *JobManager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Submit stores inst and starts solving it in the background.
func (m *JobManager) Submit(ctx context.Context, inst *domain.ProblemInstance) (string, error) {
	if err := inst.Configuration.Validate(inst.Units); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	id := uuid.NewString()
	if m.problems != nil {
		if err := m.problems.SaveProblem(ctx, id, inst); err != nil {
			return "", fmt.Errorf("submit job %s: %w", id, err)
		}
	}
	rec := ports.JobRecord{ID: id, Status: ports.JobQueued, Handles: []string{m.handle}, UpdatedAt: m.now()}
	if err := m.registry.Set(ctx, id, rec); err != nil {
		return "", fmt.Errorf("submit job %s: %w", id, err)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &runningJob{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.running[id] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(job.done)
		defer cancel()
		_, _ = m.run(jobCtx, id, inst)
		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
	}()

	m.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.Int("missions", len(inst.Missions)),
		zap.Int("resources", len(inst.Resources)),
	)
	return id, nil
}

// SolveSync solves inst in the caller's goroutine. The job is still recorded
// so its result can be fetched later.
func (m *JobManager) SolveSync(ctx context.Context, inst *domain.ProblemInstance) (string, []*domain.Solution, error) {
	id := uuid.NewString()
	rec := ports.JobRecord{ID: id, Status: ports.JobWorking, Handles: []string{m.handle}, UpdatedAt: m.now()}
	if err := m.registry.Set(ctx, id, rec); err != nil {
		return "", nil, fmt.Errorf("solve job %s: %w", id, err)
	}
	rec, err := m.run(ctx, id, inst)
	if err != nil {
		return id, nil, fmt.Errorf("solve job %s: %w", id, err)
	}
	return id, rec.Solutions, nil
}

// run solves one job and stores its final record.
func (m *JobManager) run(ctx context.Context, id string, inst *domain.ProblemInstance) (ports.JobRecord, error) {
	var mu sync.Mutex
	rec := ports.JobRecord{ID: id, Status: ports.JobWorking, Handles: []string{m.handle}, UpdatedAt: m.now()}
	m.store(id, rec)

	progress := func(p ports.Progress) {
		mu.Lock()
		defer mu.Unlock()
		rec.Message = p.Message
		rec.UpdatedAt = m.now()
		if p.Solution != nil {
			rec.Solutions = []*domain.Solution{p.Solution}
		}
		m.store(id, rec)
	}

	sols, err := m.orch.Run(ctx, id, inst, progress)

	mu.Lock()
	defer mu.Unlock()
	rec.UpdatedAt = m.now()
	switch {
	case err != nil:
		rec.Status = ports.JobFailed
		rec.Error = err.Error()
		m.logger.Error("job failed", zap.String("job_id", id), zap.Error(err))
	case slices.ContainsFunc(sols, func(s *domain.Solution) bool { return s.Status == domain.StatusKilled }):
		rec.Status = ports.JobKilled
		rec.Solutions = sols
		m.logger.Info("job killed", zap.String("job_id", id))
	default:
		rec.Status = ports.JobCompleted
		rec.Solutions = sols
		m.logger.Info("job completed", zap.String("job_id", id), zap.Int("solutions", len(sols)))
	}
	m.store(id, rec)
	return rec, err
}

// store writes rec with a fresh context so that updates of a killed job still land.
func (m *JobManager) store(id string, rec ports.JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.registry.Set(ctx, id, rec); err != nil {
		m.logger.Warn("store job record", zap.String("job_id", id), zap.Error(err))
	}
}

func (m *JobManager) Get(ctx context.Context, id string) (ports.JobRecord, error) {
	rec, ok, err := m.registry.Get(ctx, id)
	if err != nil {
		return ports.JobRecord{}, fmt.Errorf("get job %s: %w", id, err)
	}
	if !ok {
		return ports.JobRecord{}, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
	}
	return rec, nil
}

// Kill cancels a job running in this process. Finished jobs are left as is.
func (m *JobManager) Kill(ctx context.Context, id string) error {
	m.mu.Lock()
	job, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		job.cancel()
		m.logger.Info("job kill requested", zap.String("job_id", id))
		return nil
	}

	rec, err := m.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("kill job: %w", err)
	}
	switch rec.Status {
	case ports.JobQueued, ports.JobWorking:
		if !slices.Contains(rec.Handles, m.handle) {
			return fmt.Errorf("kill job %s: %w: %v", id, ErrJobRunsElsewhere, rec.Handles)
		}
	}
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *JobManager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	job, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown kills every running job and waits for them to store their result.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, job := range m.running {
		job.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown job manager: %w", ctx.Err())
	}
}
