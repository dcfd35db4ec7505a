package services

import (
	"context"
	"fmt"
	"math"
	"route-decomposition-service/internal/clustering"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
	"slices"
	"sort"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

type solveFunc func(ctx context.Context, rc *domain.ResolutionContext, progress ports.ProgressFunc) (*domain.Solution, error)

const unusedResourceFixedCost = 1e6

// DichotomousSplitter rescues large instances a direct solve leaves mostly
// unassigned by bisecting them and solving each half on its own.
type DichotomousSplitter struct {
	cfg      DichotomousConfig
	clusters clustering.Options
	logger   *zap.Logger
	runs     tally.Counter
}

func NewDichotomousSplitter(cfg DichotomousConfig, opts clustering.Options, logger *zap.Logger, scope tally.Scope) *DichotomousSplitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	d := DefaultDichotomousConfig()
	if cfg.UnassignedRatio <= 0 {
		cfg.UnassignedRatio = d.UnassignedRatio
	}
	if cfg.MaxSplitAttempts <= 0 {
		cfg.MaxSplitAttempts = d.MaxSplitAttempts
	}
	if cfg.BudgetDivisor <= 0 {
		cfg.BudgetDivisor = d.BudgetDivisor
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = d.DefaultDuration
	}
	if cfg.DefaultMinimum <= 0 {
		cfg.DefaultMinimum = d.DefaultMinimum
	}
	return &DichotomousSplitter{
		cfg:      cfg,
		clusters: opts,
		logger:   logger,
		runs:     scope.Counter("dichotomous.runs"),
	}
}

// Candidate reports whether inst is large and regular enough to be bisected.
func (d *DichotomousSplitter) Candidate(inst *domain.ProblemInstance) bool {
	if len(inst.Resources) <= d.cfg.MinResources {
		return false
	}
	if len(inst.Missions)-inst.PreRoutedMissions() <= d.cfg.MinMissions {
		return false
	}
	if inst.HasRelation(domain.RelationShipment) {
		return false
	}
	for _, r := range inst.Resources {
		if r.CostLateMultiplier != 0 {
			return false
		}
	}
	windowed := false
	for _, m := range inst.Missions {
		if m.LateMultiplier != 0 {
			return false
		}
		if len(m.TimeWindows) > 0 {
			windowed = true
		}
	}
	return windowed
}

// configure shrinks the budget of a candidate since its halves and the end
// stage each get solved too.
func (d *DichotomousSplitter) configure(inst *domain.ProblemInstance) {
	res := &inst.Configuration.Resolution
	res.AllowEmptyResult = true
	if res.DurationMs > 0 {
		res.DurationMs = int64(float64(res.DurationMs) / d.cfg.BudgetDivisor)
	} else {
		res.DurationMs = d.cfg.DefaultDuration
	}
	if res.MinimumDurationMs > 0 {
		res.MinimumDurationMs = int64(float64(res.MinimumDurationMs) / d.cfg.BudgetDivisor)
	} else {
		res.MinimumDurationMs = d.cfg.DefaultMinimum
	}
	if res.ResourceLimit == 0 {
		res.ResourceLimit = len(inst.Resources)
	}
	inst.Configuration.Preprocessing.FirstSolutionStrategy = []string{domain.StrategyParallelCheapestInsertion}
}

// Run solves rc directly and, when too many visits stay unassigned, splits the
// instance in two halves solved through recurse, then tries to reinsert what
// is still unassigned.
func (d *DichotomousSplitter) Run(
	ctx context.Context,
	rc *domain.ResolutionContext,
	direct solveFunc,
	recurse solveFunc,
	progress ports.ProgressFunc,
) (*domain.Solution, error) {
	inst := rc.Instance.Clone()
	d.configure(inst)
	rc = rc.With(inst)

	first, err := direct(ctx, rc, progress)
	if err != nil {
		return nil, fmt.Errorf("dichotomous direct solve: %w", err)
	}
	if first.Status == domain.StatusKilled {
		return first, nil
	}
	if float64(len(first.Unassigned)) < d.cfg.UnassignedRatio*float64(inst.Visits()) {
		return first, nil
	}

	var halves [][]string
	opts := d.clusters
	for attempt := 0; attempt < d.cfg.MaxSplitAttempts; attempt++ {
		opts.Seed = d.clusters.Seed + inst.Configuration.Resolution.Seed + uint64(attempt)
		if halves = clustering.BisectMissions(inst, opts); len(halves) == 2 {
			break
		}
	}
	if len(halves) != 2 {
		d.logger.Warn("dichotomous split produced a single cluster", zap.String("job_id", rc.JobID))
		return first, nil
	}

	d.runs.Inc(1)
	d.logger.Info("dichotomous split",
		zap.String("job_id", rc.JobID),
		zap.Int("level", rc.Dicho.Level),
		zap.Int("unassigned", len(first.Unassigned)),
		zap.Int("visits", inst.Visits()),
	)

	resources := d.splitResources(inst, halves)
	if len(resources[1]) > len(resources[0]) {
		halves[0], halves[1] = halves[1], halves[0]
		resources[0], resources[1] = resources[1], resources[0]
	}

	subs := make([]*domain.ProblemInstance, 2)
	for i := range subs {
		sub := inst.Partial(halves[i], resources[i])
		if err := rc.Arena.Hydrate(sub); err != nil {
			return nil, fmt.Errorf("dichotomous split: %w", err)
		}
		for j := range sub.Resources {
			if sub.Resources[j].CostFixed <= 0 {
				sub.Resources[j].CostFixed = unusedResourceFixedCost
			}
		}
		limit := inst.Configuration.Resolution.ResourceLimit
		sub.Configuration.Resolution.ResourceLimit = min(len(sub.Resources),
			int(math.Ceil(float64(len(sub.Resources))/float64(len(inst.Resources))*float64(limit))))
		sub.Configuration.Preprocessing.FirstSolutionStrategy = []string{domain.StrategySelfSelection}
		subs[i] = sub
	}

	sol0, err := recurse(ctx, rc.DichoChild(subs[0], 1), ports.WithPrefix(progress, "dichotomous process", 1, 2))
	if err != nil {
		return nil, err
	}

	// Resources left idle by the first half join the second one.
	for _, r := range sol0.Routes {
		if len(r.Stops) > 0 {
			continue
		}
		res, ok := findResource(subs[0], r.ResourceID)
		if !ok {
			continue
		}
		if _, dup := subs[1].Resource(res.ID); dup {
			continue
		}
		subs[1].Resources = append(subs[1].Resources, res.Clone())
		subs[1].Configuration.Resolution.ResourceLimit++
	}
	if err := rc.Arena.Hydrate(subs[1]); err != nil {
		return nil, fmt.Errorf("dichotomous transfer: %w", err)
	}

	sol1, err := recurse(ctx, rc.DichoChild(subs[1], 2), ports.WithPrefix(progress, "dichotomous process", 2, 2))
	if err != nil {
		return nil, err
	}

	merged := domain.MergeSolutions(sol0, sol1)
	merged.ElapsedMs += first.ElapsedMs
	removeBadSkills(inst, merged)

	if merged.Status != domain.StatusKilled {
		merged = d.insertUnassigned(ctx, rc, inst, merged, direct, progress)
	}
	if rc.Dicho.Level == 0 {
		removePoorlyPopulatedRoutes(inst, merged, 0.5)
	}
	merged.Normalize()
	return merged, nil
}

// splitResources puts a resource in the only half whose missions it has the
// skills for, otherwise in the half with fewer resources.
func (d *DichotomousSplitter) splitResources(inst *domain.ProblemInstance, halves [][]string) [2][]string {
	skillsByHalf := make([][][]string, 2)
	for h, ids := range halves {
		seen := map[string]struct{}{}
		for _, id := range ids {
			m, ok := inst.Mission(id)
			if !ok || len(m.Skills) == 0 {
				continue
			}
			key := domain.SkillKey(m.Skills)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			skillsByHalf[h] = append(skillsByHalf[h], domain.NormalizeSkills(m.Skills))
		}
	}

	var out [2][]string
	for _, r := range inst.Resources {
		side := -1
		if len(r.Skills) > 0 {
			var preferred []int
			for h, sets := range skillsByHalf {
				if slices.ContainsFunc(sets, func(s []string) bool { return domain.Covers(r.Skills, s) }) {
					preferred = append(preferred, h)
				}
			}
			if len(preferred) == 1 {
				side = preferred[0]
			}
		}
		if side == -1 {
			side = 0
			if len(out[1]) < len(out[0]) {
				side = 1
			}
		}
		out[side] = append(out[side], r.ID)
	}
	return out
}

// insertUnassigned groups unassigned missions by skills and re-solves each
// group together with the routes of a few compatible resources, keeping the
// result when it does not unassign more than it had to place.
func (d *DichotomousSplitter) insertUnassigned(
	ctx context.Context,
	rc *domain.ResolutionContext,
	inst *domain.ProblemInstance,
	sol *domain.Solution,
	direct solveFunc,
	progress ports.ProgressFunc,
) *domain.Solution {
	if len(sol.Unassigned) == 0 || !d.Candidate(inst) {
		return sol
	}

	var unassigned []*domain.Mission
	seen := map[string]struct{}{}
	for _, u := range sol.Unassigned {
		if _, dup := seen[u.MissionID]; dup {
			continue
		}
		seen[u.MissionID] = struct{}{}
		if m, ok := inst.Mission(u.MissionID); ok {
			unassigned = append(unassigned, m)
		}
	}

	groups := map[string][]*domain.Mission{}
	var keys []string
	for _, m := range unassigned {
		key := domain.SkillKey(m.Skills)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], m)
	}

	for _, key := range keys {
		if ctx.Err() != nil || len(sol.Unassigned) == 0 {
			break
		}
		group := groups[key]
		candidates := d.insertionResources(inst, sol, group)

		size := 3
		routed := nonEmptyRoutes(sol)
		if len(group[0].Skills) == 0 && routed > 0 {
			size = min(routed, 6)
		}

		for chunk := range slices.Chunk(candidates, size) {
			sol = d.insertChunk(ctx, rc, inst, sol, group, len(unassigned), chunk, direct, progress)
		}
	}
	return sol
}

func (d *DichotomousSplitter) insertionResources(inst *domain.ProblemInstance, sol *domain.Solution, group []*domain.Mission) []string {
	var pinned []string
	for _, m := range group {
		pinned = append(pinned, m.PinnedResourceIDs...)
	}

	var out []string
	for _, r := range inst.Resources {
		switch {
		case len(pinned) > 0:
			if slices.Contains(pinned, r.ID) {
				out = append(out, r.ID)
			}
		case domain.Covers(r.Skills, group[0].Skills):
			out = append(out, r.ID)
		}
	}

	used := map[string]bool{}
	for _, r := range sol.Routes {
		if len(r.Stops) > 0 {
			used[r.ResourceID] = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return used[out[i]] && !used[out[j]] })
	return out
}

func (d *DichotomousSplitter) insertChunk(
	ctx context.Context,
	rc *domain.ResolutionContext,
	inst *domain.ProblemInstance,
	sol *domain.Solution,
	group []*domain.Mission,
	totalUnassigned int,
	chunk []string,
	direct solveFunc,
	progress ports.ProgressFunc,
) *domain.Solution {
	groupIDs := map[string]struct{}{}
	for _, m := range group {
		groupIDs[m.ID] = struct{}{}
	}
	var remaining []string
	seen := map[string]struct{}{}
	for _, u := range sol.Unassigned {
		if _, ok := groupIDs[u.MissionID]; !ok {
			continue
		}
		if _, dup := seen[u.MissionID]; !dup {
			seen[u.MissionID] = struct{}{}
			remaining = append(remaining, u.MissionID)
		}
	}
	if len(remaining) == 0 {
		return sol
	}

	inChunk := map[string]struct{}{}
	for _, id := range chunk {
		inChunk[id] = struct{}{}
	}
	counts := map[string]int{}
	var assigned []string
	var initial []domain.InitialRoute
	for _, r := range sol.Routes {
		if _, ok := inChunk[r.ResourceID]; !ok || len(r.Stops) == 0 {
			continue
		}
		ir := domain.InitialRoute{ResourceID: r.ResourceID, Day: r.Day}
		for _, st := range r.Stops {
			if counts[st.MissionID] == 0 {
				assigned = append(assigned, st.MissionID)
			}
			counts[st.MissionID]++
			ir.MissionIDs = append(ir.MissionIDs, st.MissionID)
		}
		initial = append(initial, ir)
	}
	for _, u := range sol.Unassigned {
		if _, ok := seen[u.MissionID]; ok {
			counts[u.MissionID]++
		}
	}
	// Every visit of the re-solved missions must be owned by this chunk.
	for id, n := range counts {
		if m, ok := inst.Mission(id); !ok || m.Visits() != n {
			return sol
		}
	}

	sub := inst.Partial(append(slices.Clone(remaining), assigned...), chunk)
	if err := rc.Arena.Hydrate(sub); err != nil {
		return sol
	}
	for j := range sub.Resources {
		if sub.Resources[j].CostFixed <= 0 {
			sub.Resources[j].CostFixed = unusedResourceFixedCost
		}
	}
	sub.InitialRoutes = initial
	rateResources := float64(len(sub.Resources)) / float64(len(inst.Resources))
	rateMissions := float64(len(group)) / float64(totalUnassigned)
	level := float64(rc.Dicho.Level + 1)
	res := inst.Configuration.Resolution
	sub.Configuration.Resolution.DurationMs = int64(float64(res.DurationMs) / (2 * level) * rateResources * rateMissions)
	sub.Configuration.Resolution.MinimumDurationMs = int64(float64(res.MinimumDurationMs) / level * rateResources * rateMissions)
	sub.Configuration.Resolution.AllowEmptyResult = true

	out, err := direct(ctx, rc.With(sub), progress)
	if err != nil {
		d.logger.Warn("end stage insertion failed", zap.String("job_id", rc.JobID), zap.Error(err))
		return sol
	}
	sol.ElapsedMs += out.ElapsedMs
	if out.Status == domain.StatusKilled || len(out.Unassigned) > len(remaining) {
		return sol
	}
	removeBadSkills(sub, out)
	if len(out.Unassigned) > len(remaining) {
		return sol
	}

	owned := map[string]struct{}{}
	for id := range counts {
		owned[id] = struct{}{}
	}
	sol.Routes = slices.DeleteFunc(sol.Routes, func(r domain.Route) bool {
		_, ok := inChunk[r.ResourceID]
		return ok
	})
	sol.Unassigned = slices.DeleteFunc(sol.Unassigned, func(u domain.UnassignedMission) bool {
		_, ok := owned[u.MissionID]
		return ok
	})
	sol.Routes = append(sol.Routes, out.Routes...)
	sol.Unassigned = append(sol.Unassigned, out.Unassigned...)
	sol.Solvers = append(sol.Solvers, out.Solvers...)
	return sol
}

func nonEmptyRoutes(sol *domain.Solution) int {
	n := 0
	for _, r := range sol.Routes {
		if len(r.Stops) > 0 {
			n++
		}
	}
	return n
}
