package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"route-decomposition-service/internal/clustering"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/periodic"
	"route-decomposition-service/internal/platform/obs"
	"route-decomposition-service/internal/ports"
	"slices"
	"strings"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type stage int

const (
	stageStart stage = iota
	stageTrySplit
	stageTryDichotomous
	stageDirectSolve
	stageConsolidate
	stageDone
)

func (s stage) String() string {
	return [...]string{"start", "try_split", "try_dichotomous", "direct_solve", "consolidate", "done"}[s]
}

// Orchestrator decomposes submissions into independent sub-instances,
// dispatches leaves to solver gateways and merges the partial solutions.
type Orchestrator struct {
	gateways []ports.SolverGateway
	matrix   ports.MatrixProvider
	checker  ports.FeasibilityChecker
	dicho    *DichotomousSplitter
	logger   *zap.Logger
	scope    tally.Scope
	cfg      OrchestratorConfig
}

// NewOrchestrator wires the pipeline. Gateways are tried in the given order.
// matrix and checker may be nil.
func NewOrchestrator(
	gateways []ports.SolverGateway,
	matrix ports.MatrixProvider,
	checker ports.FeasibilityChecker,
	logger *zap.Logger,
	scope tally.Scope,
	cfg OrchestratorConfig,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultOrchestratorConfig().MaxDepth
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		gateways: gateways,
		matrix:   matrix,
		checker:  checker,
		dicho:    NewDichotomousSplitter(cfg.Dichotomous, cfg.Clustering, logger, scope),
		logger:   logger,
		scope:    scope,
		cfg:      cfg,
	}
}

// Gateway returns the first gateway applicable to inst.
func (o *Orchestrator) Gateway(inst *domain.ProblemInstance) (ports.SolverGateway, error) {
	var reasons []string
	for _, g := range o.gateways {
		r := g.InapplicabilityReasons(inst)
		if len(r) == 0 {
			return g, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", g.Kind(), strings.Join(r, ", ")))
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNoApplicableSolver, strings.Join(reasons, "; "))
}

// Solvers lists the gateway kinds in priority order.
func (o *Orchestrator) Solvers() []string {
	out := make([]string, len(o.gateways))
	for i, g := range o.gateways {
		out[i] = string(g.Kind())
	}
	return out
}

// Run solves one submission and returns one solution per requested variant.
// A killed run returns the partial solutions with status killed and no error.
func (o *Orchestrator) Run(
	ctx context.Context,
	jobID string,
	inst *domain.ProblemInstance,
	progress ports.ProgressFunc,
) (_ []*domain.Solution, err error) {
	ctx = context.WithValue(ctx, obs.JobIDKey, jobID)
	defer obs.Time(ctx, o.logger, "orchestrator.Run")(&err)

	if err := inst.Configuration.Validate(inst.Units); err != nil {
		return nil, fmt.Errorf("run job %s: %w", jobID, err)
	}
	if len(o.gateways) == 0 {
		return nil, fmt.Errorf("run job %s: %w", jobID, domain.ErrNoApplicableSolver)
	}

	arena := domain.NewArena(inst)
	defer arena.Close()

	work := inst.Clone()
	if err := o.computeMatrices(ctx, work); err != nil {
		return nil, fmt.Errorf("run job %s: %w", jobID, err)
	}
	arena.Register(work)

	variants := max(1, work.Configuration.Resolution.SeveralSolutions)
	out := make([]*domain.Solution, 0, variants)
	for i := 1; i <= variants; i++ {
		variant := work
		if variants > 1 {
			variant = work.Clone()
			variant.Configuration.Resolution.Seed += uint64(i - 1)
			variant.Configuration.Resolution.SeveralSolutions = 1
		}
		rc := domain.NewResolutionContext(variant, jobID, "", arena)
		sol, err := o.mainProcess(ctx, rc, ports.WithPrefix(progress, "solution", i, variants))
		if err != nil {
			return nil, err
		}
		out = append(out, sol)
	}
	return out, nil
}

// mainProcess solves one variant, repairs multi-day assignments and checks
// that no visit was lost or duplicated.
func (o *Orchestrator) mainProcess(ctx context.Context, rc *domain.ResolutionContext, progress ports.ProgressFunc) (*domain.Solution, error) {
	inst := rc.Instance
	start := time.Now()

	sol, err := o.process(ctx, rc, progress, true)
	if err != nil {
		return nil, err
	}

	if sol.Status != domain.StatusKilled && needsPeriodicRepair(inst) {
		ports.Report(progress, "periodic heuristic - repairing assignment")
		rep := periodic.NewRepairer(inst, sol, periodic.Options{AllowPartialAssignment: inst.Configuration.Resolution.AllowPartialAssignment}, o.logger)
		rep.Run(progress)
		repaired := rep.Solution()
		repaired.ElapsedMs = sol.ElapsedMs
		repaired.Solvers = sol.Solvers
		repaired.ChosenRepetition = sol.ChosenRepetition
		sol = repaired
	}

	sol.RemoveEmptyRoutes()
	sol.Normalize()
	if sol.ElapsedMs == 0 {
		sol.ElapsedMs = time.Since(start).Milliseconds()
	}

	if err := domain.CheckConsistency(inst.Visits(), sol); err != nil {
		if demoOnly(sol.Solvers) {
			o.logger.Warn("inconsistent solution ignored for demo solver", zap.String("job_id", rc.JobID), zap.Error(err))
		} else {
			return nil, fmt.Errorf("main process job %s: %w", rc.JobID, err)
		}
	}
	return sol, nil
}

// demoOnly reports whether every solver behind a solution is the demo one.
func demoOnly(solvers []string) bool {
	return len(solvers) > 0 && !slices.ContainsFunc(solvers, func(s string) bool {
		return s != string(ports.SolverDemo)
	})
}

func needsPeriodicRepair(inst *domain.ProblemInstance) bool {
	if inst.Configuration.Schedule == nil {
		return false
	}
	return slices.ContainsFunc(inst.Missions, func(m domain.Mission) bool {
		return m.Visits() > 1 || m.MinimumLapse != nil || m.MaximumLapse != nil
	})
}

// process drives one resolution context through the stage machine.
func (o *Orchestrator) process(ctx context.Context, rc *domain.ResolutionContext, progress ports.ProgressFunc, top bool) (*domain.Solution, error) {
	if rc.Depth > o.cfg.MaxDepth {
		return nil, fmt.Errorf("process depth %d: %w", rc.Depth, domain.ErrMaxDepthExceeded)
	}

	inst := rc.Instance
	if n := inst.Configuration.Resolution.Repetition; n > 1 && len(inst.Missions) > 0 {
		return o.repeat(ctx, rc, progress, top, n)
	}

	var sol *domain.Solution
	var err error
	st := stageStart
	for st != stageDone {
		if ctx.Err() != nil {
			o.scope.Counter("solve.killed").Inc(1)
			return killedSolution(rc.Instance, sol), nil
		}
		o.logger.Debug("stage",
			zap.String("job_id", rc.JobID),
			zap.Stringer("stage", st),
			zap.Int("depth", rc.Depth),
			zap.Int("missions", len(rc.Instance.Missions)),
			zap.Int("resources", len(rc.Instance.Resources)),
		)

		switch st {
		case stageStart:
			switch {
			case len(rc.Instance.Missions) == 0:
				sol = &domain.Solution{Status: domain.StatusSolved, Routes: []domain.Route{}}
				st = stageConsolidate
			case len(rc.Instance.Resources) == 0:
				sol = domain.UnassignedSolution(rc.Instance, domain.ReasonNoCompatibleResource)
				st = stageConsolidate
			default:
				st = stageTrySplit
			}

		case stageTrySplit:
			var subs []*domain.ProblemInstance
			var kind string
			subs, kind, rc, err = o.split(rc, top)
			if err != nil {
				return nil, err
			}
			switch {
			case len(subs) > 1:
				sol, err = o.solveIndependent(ctx, rc, subs, kind, progress)
				st = stageConsolidate
			case o.splitSolveApplies(rc.Instance):
				sol, err = o.splitSolve(ctx, rc, progress)
				st = stageConsolidate
			default:
				st = stageTryDichotomous
			}
			if err != nil {
				return nil, err
			}

		case stageTryDichotomous:
			if !o.dicho.Candidate(rc.Instance) {
				st = stageDirectSolve
				continue
			}
			sol, err = o.dicho.Run(ctx, rc, o.solveLeaf, o.recurse, progress)
			if err != nil {
				return nil, err
			}
			st = stageConsolidate

		case stageDirectSolve:
			sol, err = o.solveLeaf(ctx, rc, progress)
			if err != nil {
				return nil, err
			}
			st = stageConsolidate

		case stageConsolidate:
			sol.Normalize()
			st = stageDone
		}
	}
	return sol, nil
}

func (o *Orchestrator) recurse(ctx context.Context, rc *domain.ResolutionContext, progress ports.ProgressFunc) (*domain.Solution, error) {
	return o.process(ctx, rc, progress, false)
}

// repeat solves the same context n times with different seeds and keeps the
// result with the fewest unassigned visits, the earliest on ties.
func (o *Orchestrator) repeat(ctx context.Context, rc *domain.ResolutionContext, progress ports.ProgressFunc, top bool, n int) (*domain.Solution, error) {
	var best *domain.Solution
	chosen := 0
	for i := 1; i <= n; i++ {
		variant := rc.Instance.Clone()
		variant.Configuration.Resolution.Repetition = 1
		variant.Configuration.Resolution.Seed += uint64(i - 1)

		sol, err := o.process(ctx, rc.With(variant), ports.WithPrefix(progress, "repetition", i, n), top)
		if err != nil {
			return nil, err
		}
		o.scope.Counter("repetitions").Inc(1)
		if best == nil || len(sol.Unassigned) < len(best.Unassigned) {
			best, chosen = sol, i
		}
		if len(sol.Unassigned) == 0 || sol.Status == domain.StatusKilled {
			break
		}
	}
	best.ChosenRepetition = chosen
	o.logger.Info("repetition chosen",
		zap.String("job_id", rc.JobID),
		zap.Int("repetition", chosen),
		zap.Int("unassigned", len(best.Unassigned)),
	)
	return best, nil
}

// split decides how the instance of rc decomposes: by skills at the top
// level, then by the declared partition phases. A phase producing a single
// instance hands it to the next phase.
func (o *Orchestrator) split(rc *domain.ResolutionContext, top bool) ([]*domain.ProblemInstance, string, *domain.ResolutionContext, error) {
	if top {
		subs := PartitionBySkills(rc.Instance, SkillPartitionOptions{IsolateUntagged: o.cfg.IsolateUntagged})
		if len(subs) > 1 {
			o.scope.Counter("split.skill").Inc(1)
			o.logger.Info("split independent",
				zap.String("job_id", rc.JobID),
				zap.Int("instances", len(subs)),
			)
			return subs, "split independent process", rc, nil
		}
	}

	for len(rc.Instance.Configuration.Preprocessing.Partitions) > 0 {
		part := rc.Instance.Configuration.Preprocessing.Partitions[0]
		opts := o.cfg.Clustering
		opts.Seed += rc.Instance.Configuration.Resolution.Seed

		subs, err := clustering.Split(rc.Instance, rc.Arena, part, opts)
		if err != nil {
			return nil, "", rc, fmt.Errorf("split partition %s: %w", part.Method, err)
		}
		if len(subs) > 1 {
			o.scope.Counter("split.cluster").Inc(1)
			o.logger.Info("split partition",
				zap.String("job_id", rc.JobID),
				zap.String("method", string(part.Method)),
				zap.String("entity", string(part.Entity)),
				zap.Int("clusters", len(subs)),
			)
			return subs, "split partition", rc, nil
		}
		rc = rc.With(subs[0])
	}
	return nil, "", rc, nil
}

// solveIndependent solves sub-instances sharing no state concurrently and
// merges their solutions. A sub-instance whose solver fails is reported
// unassigned instead of failing its siblings.
func (o *Orchestrator) solveIndependent(
	ctx context.Context,
	rc *domain.ResolutionContext,
	subs []*domain.ProblemInstance,
	kind string,
	progress ports.ProgressFunc,
) (*domain.Solution, error) {
	results := make([]*domain.Solution, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, sub := range subs {
		child := rc.SplitChild(sub, i+1, len(subs))
		childProgress := ports.WithPrefix(progress, kind, i+1, len(subs))
		g.Go(func() error {
			sol, err := o.process(gctx, child, childProgress, false)
			if err != nil {
				if !recoverable(err) {
					return err
				}
				o.logger.Warn("sub-instance failed, missions reported unassigned",
					zap.String("job_id", rc.JobID),
					zap.Int("side", i+1),
					zap.Error(err),
				)
				sol = domain.UnassignedSolution(sub, err.Error())
			}
			results[i] = sol
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return domain.MergeSolutions(results...), nil
}

func recoverable(err error) bool {
	var ge *domain.GatewayError
	return errors.As(err, &ge) || errors.Is(err, domain.ErrNoApplicableSolver)
}

func (o *Orchestrator) splitSolveApplies(inst *domain.ProblemInstance) bool {
	limit := inst.Configuration.Preprocessing.MaxSplitSize
	if o.cfg.MaxSplitSize > 0 {
		limit = o.cfg.MaxSplitSize
	}
	return limit > 0 &&
		len(inst.Missions) > limit &&
		len(inst.Resources) > 1 &&
		inst.Configuration.Schedule == nil
}

// splitSolve bisects an oversized instance and solves the larger half first.
// Resources used by a half are withdrawn from the next one.
func (o *Orchestrator) splitSolve(ctx context.Context, rc *domain.ResolutionContext, progress ports.ProgressFunc) (*domain.Solution, error) {
	inst := rc.Instance
	opts := o.cfg.Clustering
	opts.Seed += inst.Configuration.Resolution.Seed

	halves := clustering.BisectMissions(inst, opts)
	if len(halves) < 2 {
		return o.solveLeaf(ctx, rc, progress)
	}
	o.scope.Counter("split.solve").Inc(1)

	available := inst.ResourceIDs()
	total := float64(inst.Visits())
	res := inst.Configuration.Resolution

	var sols []*domain.Solution
	for i, ids := range halves {
		sub := inst.Partial(ids, available)
		if err := rc.Arena.Hydrate(sub); err != nil {
			return nil, fmt.Errorf("split solve: %w", err)
		}
		share := float64(sub.Visits()) / total
		sub.ScaleBudget(float64(sub.Visits()), total)
		sub.Configuration.Resolution.AllowEmptyResult = true
		if res.ResourceLimit > 0 {
			limit := int(math.Ceil(float64(res.ResourceLimit) * math.Min(1, o.cfg.SplitSolveMinShare+share)))
			sub.Configuration.Resolution.ResourceLimit = max(1, min(limit, len(sub.Resources)))
		}

		var sol *domain.Solution
		var err error
		if len(sub.Resources) == 0 {
			sol = domain.UnassignedSolution(sub, domain.ReasonNoCompatibleResource)
		} else {
			sol, err = o.process(ctx, rc.SplitChild(sub, i+1, 2), ports.WithPrefix(progress, "split solve", i+1, 2), false)
			if err != nil {
				return nil, err
			}
		}
		if !o.dicho.Candidate(sub) {
			removePoorlyPopulatedRoutes(sub, sol, o.cfg.PoorlyPopulatedRatio)
		}
		sols = append(sols, sol)

		used := map[string]struct{}{}
		for _, r := range sol.Routes {
			if len(r.Stops) > 0 {
				used[r.ResourceID] = struct{}{}
			}
		}
		available = slices.DeleteFunc(available, func(id string) bool {
			r, _ := inst.Resource(id)
			_, ok := used[r.BaseID()]
			_, okID := used[id]
			return ok || okID
		})
	}
	return domain.MergeSolutions(sols...), nil
}

// solveLeaf strips infeasible missions and dispatches the instance to the
// first applicable gateway, falling back to the next one on solver failure.
func (o *Orchestrator) solveLeaf(ctx context.Context, rc *domain.ResolutionContext, progress ports.ProgressFunc) (_ *domain.Solution, err error) {
	defer obs.Time(ctx, o.logger, "orchestrator.solveLeaf")(&err)

	inst := rc.Instance
	prefiltered := &domain.Solution{Status: domain.StatusSolved}
	if o.checker != nil {
		if unfeasible := o.checker.DetectUnfeasible(inst); len(unfeasible) > 0 {
			var keep []string
			for _, m := range inst.Missions {
				reason, ok := unfeasible[m.ID]
				if !ok {
					keep = append(keep, m.ID)
					continue
				}
				for range m.Visits() {
					prefiltered.AddUnassigned(m.ID, reason)
				}
			}
			inst = inst.Partial(keep, inst.ResourceIDs())
		}
	}
	if len(inst.Missions) == 0 {
		return prefiltered, nil
	}

	var candidates []ports.SolverGateway
	var reasons []string
	for _, g := range o.gateways {
		if r := g.InapplicabilityReasons(inst); len(r) > 0 {
			reasons = append(reasons, fmt.Sprintf("%s: %s", g.Kind(), strings.Join(r, ", ")))
			continue
		}
		candidates = append(candidates, g)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("solve leaf: %w: %s", domain.ErrNoApplicableSolver, strings.Join(reasons, "; "))
	}

	o.scope.Counter("solve.direct").Inc(1)
	var sol *domain.Solution
	for i, g := range candidates {
		sol, err = g.Solve(ctx, inst, rc.JobID, progress)
		if err == nil && emptyResult(inst, sol) {
			err = &domain.GatewayError{Solver: string(g.Kind()), Message: "no solution provided"}
		}
		if err == nil {
			if len(sol.Solvers) == 0 {
				sol.Solvers = []string{string(g.Kind())}
			}
			break
		}
		if !recoverable(err) || i == len(candidates)-1 {
			return nil, fmt.Errorf("solve leaf: %w", err)
		}
		o.logger.Warn("solver failed, falling back",
			zap.String("job_id", rc.JobID),
			zap.String("solver", string(g.Kind())),
			zap.String("fallback", string(candidates[i+1].Kind())),
			zap.Error(err),
		)
	}
	return domain.MergeSolutions(sol, prefiltered), nil
}

// emptyResult reports a finished solution without any assigned visit when the
// instance does not accept one.
func emptyResult(inst *domain.ProblemInstance, sol *domain.Solution) bool {
	return !inst.Configuration.Resolution.AllowEmptyResult &&
		sol.Status != domain.StatusKilled &&
		sol.AssignedCount() == 0
}

// computeMatrices fills the travel matrix once per submission.
func (o *Orchestrator) computeMatrices(ctx context.Context, inst *domain.ProblemInstance) error {
	if len(inst.Matrices) > 0 || o.matrix == nil || len(inst.Locations) == 0 {
		return nil
	}
	for i := range inst.Locations {
		inst.Locations[i].MatrixIndex = i
	}
	m, err := o.matrix.ComputeMatrix(ctx, "m0", inst.Locations)
	if err != nil {
		return fmt.Errorf("compute matrix: %w", err)
	}
	inst.Matrices = []domain.Matrix{m}
	for i := range inst.Resources {
		if inst.Resources[i].MatrixID == "" {
			inst.Resources[i].MatrixID = m.ID
		}
	}
	return nil
}
