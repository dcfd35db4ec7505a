// Package solver holds the gateways the orchestrator dispatches leaves to.
package solver

import (
	"context"
	"fmt"
	"math"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
	"slices"
	"time"

	"go.uber.org/zap"
)

// LocalSolver builds routes in-process with a greedy nearest-neighbor
// construction. It trades optimality for determinism and needs no external
// service, which makes it the fallback of every deployment.
type LocalSolver struct {
	logger *zap.Logger
	// SyncLimit is the mission count up to which callers may wait inline.
	SyncLimit int
}

func NewLocalSolver(logger *zap.Logger) *LocalSolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSolver{logger: logger, SyncLimit: 300}
}

func (s *LocalSolver) Kind() ports.SolverKind { return ports.SolverLocal }

func (s *LocalSolver) InapplicabilityReasons(inst *domain.ProblemInstance) []string {
	var reasons []string
	if inst.HasRelation(domain.RelationShipment) {
		reasons = append(reasons, "shipment relations are not supported")
	}
	return reasons
}

func (s *LocalSolver) SolveSynchronous(inst *domain.ProblemInstance) bool {
	return len(inst.Missions) <= s.SyncLimit
}

// routeBuilder tracks one route under construction.
type routeBuilder struct {
	res      *domain.Resource
	day      int
	window   domain.TimeWindow
	matrix   *domain.Matrix
	load     *domain.RouteLoad
	stops    []domain.Stop
	at       int
	location string
	distance float64
	// duration includes the way back to the end location.
	duration int
}

// durationGroup is the shared duration budget of resources linked by a
// vehicle_group_duration relation.
type durationGroup struct {
	limit int
	used  int
}

// localRun is the state of one Solve call.
type localRun struct {
	inst      *domain.ProblemInstance
	locations map[string]domain.Location
	order     []*domain.Resource
	remaining map[string]int
	assigned  map[string][]int
	used      map[string]bool
	seeded    map[string][]string
	groups    map[string][]*durationGroup
	limit     int
	sol       *domain.Solution

	progress ports.ProgressFunc
	done     int
	total    int
}

// Solve plans every day in turn. The sequential strategy fills one resource
// after the other; the parallel one grows all routes of a day together and
// always takes the cheapest extension. A cancelled context returns the routes
// built so far and reports the rest as killed.
func (s *LocalSolver) Solve(
	ctx context.Context,
	inst *domain.ProblemInstance,
	jobID string,
	progress ports.ProgressFunc,
) (*domain.Solution, error) {
	start := time.Now()

	days := []int{domain.NoDay}
	if inst.Configuration.Schedule != nil {
		days = inst.Configuration.Schedule.Days()
	}

	r := &localRun{
		inst:      inst,
		locations: inst.LocationIndex(),
		order:     resourceOrder(inst),
		remaining: map[string]int{},
		assigned:  map[string][]int{},
		used:      map[string]bool{},
		seeded:    map[string][]string{},
		groups:    map[string][]*durationGroup{},
		limit:     inst.Configuration.Resolution.ResourceLimit,
		sol:       &domain.Solution{Status: domain.StatusSolved, Routes: []domain.Route{}},
		progress:  progress,
		total:     len(days) * len(inst.Resources),
	}
	for _, m := range inst.Missions {
		r.remaining[m.ID] = m.Visits()
		if inst.Configuration.Schedule == nil {
			r.remaining[m.ID] = 1
		}
	}
	for _, ir := range inst.InitialRoutes {
		r.seeded[fmt.Sprintf("%s|%d", ir.ResourceID, ir.Day)] = ir.MissionIDs
	}
	for _, rel := range inst.Relations {
		if rel.Type != domain.RelationVehicleGroupDuration {
			continue
		}
		g := &durationGroup{limit: rel.Lapse}
		for _, id := range rel.LinkedResourceIDs {
			r.groups[id] = append(r.groups[id], g)
		}
	}

	parallel := strategy(inst) == domain.StrategyParallelCheapestInsertion
	for _, day := range days {
		var ok bool
		if parallel {
			ok = s.parallelDay(ctx, r, day)
		} else {
			ok = s.sequentialDay(ctx, r, day)
		}
		if !ok {
			return s.killed(r, start), nil
		}
	}

	sol := r.sol
	for _, m := range inst.Missions {
		for range m.Visits() - len(r.assigned[m.ID]) {
			sol.AddUnassigned(m.ID, domain.ReasonNotPlanned)
			sol.Cost.Exclusion += m.ExclusionCost
		}
	}
	sol.ElapsedMs = time.Since(start).Milliseconds()
	sol.Solvers = []string{string(ports.SolverLocal)}
	s.logger.Debug("local solve done",
		zap.String("job_id", jobID),
		zap.Bool("parallel", parallel),
		zap.Int("routes", len(sol.Routes)),
		zap.Int("unassigned", len(sol.Unassigned)),
	)
	sol.Normalize()
	return sol, nil
}

// strategy picks the first construction the local solver knows. Anything else
// builds routes one resource at a time.
func strategy(inst *domain.ProblemInstance) string {
	for _, st := range inst.Configuration.Preprocessing.FirstSolutionStrategy {
		switch st {
		case domain.StrategyPathCheapestArc, domain.StrategyParallelCheapestInsertion:
			return st
		}
	}
	return domain.StrategyPathCheapestArc
}

// resourceOrder puts resources whose skills meet the restricted skills of a
// cluster ahead of the others, so specialists are filled before generalists.
func resourceOrder(inst *domain.ProblemInstance) []*domain.Resource {
	out := make([]*domain.Resource, len(inst.Resources))
	for i := range inst.Resources {
		out[i] = &inst.Resources[i]
	}
	restricted := inst.Configuration.Preprocessing.RestrictedSkills
	if len(restricted) == 0 {
		return out
	}
	specialist := func(r *domain.Resource) bool {
		for _, alt := range r.Skills {
			if slices.ContainsFunc(alt, func(sk string) bool { return slices.Contains(restricted, sk) }) {
				return true
			}
		}
		return false
	}
	slices.SortStableFunc(out, func(a, b *domain.Resource) int {
		sa, sb := specialist(a), specialist(b)
		switch {
		case sa && !sb:
			return -1
		case sb && !sa:
			return 1
		}
		return 0
	})
	return out
}

func (r *localRun) limited(res *domain.Resource) bool {
	return r.limit > 0 && !r.used[res.ID] && len(r.used) >= r.limit
}

// fitsGroups reports whether res may work extra seconds more.
func (r *localRun) fitsGroups(res *domain.Resource, extra int) bool {
	for _, g := range r.groups[res.ID] {
		if g.used+extra > g.limit {
			return false
		}
	}
	return true
}

func (s *LocalSolver) sequentialDay(ctx context.Context, r *localRun, day int) bool {
	for _, res := range r.order {
		if ctx.Err() != nil {
			return false
		}
		if r.limited(res) {
			r.done++
			r.sol.Routes = append(r.sol.Routes, domain.Route{ResourceID: res.ID, Day: day, Stops: []domain.Stop{}})
			continue
		}
		b, ok := s.open(r, res, day)
		if !ok {
			r.done++
			continue
		}
		for {
			m, arrival, _, ok := s.nearest(r, b)
			if !ok {
				break
			}
			s.visit(r, b, m, arrival)
		}
		s.close(r, b)
	}
	return true
}

func (s *LocalSolver) parallelDay(ctx context.Context, r *localRun, day int) bool {
	var builders []*routeBuilder
	for _, res := range r.order {
		b, ok := s.open(r, res, day)
		if !ok {
			r.done++
			continue
		}
		builders = append(builders, b)
	}
	defer func() {
		for _, b := range builders {
			s.close(r, b)
		}
	}()

	for {
		if ctx.Err() != nil {
			return false
		}
		var (
			best       *routeBuilder
			bestM      *domain.Mission
			bestArr    int
			bestTravel = math.MaxInt
		)
		for _, b := range builders {
			if len(b.stops) == 0 && r.limited(b.res) {
				continue
			}
			m, arrival, travel, ok := s.nearest(r, b)
			if ok && travel < bestTravel {
				best, bestM, bestArr, bestTravel = b, m, arrival, travel
			}
		}
		if best == nil {
			return true
		}
		s.visit(r, best, bestM, bestArr)
	}
}

// killed closes the solution on cancellation. Visits not yet routed are
// reported as killed.
func (s *LocalSolver) killed(r *localRun, start time.Time) *domain.Solution {
	sol := r.sol
	for _, m := range r.inst.Missions {
		n := r.remaining[m.ID]
		if r.inst.Configuration.Schedule == nil {
			n += m.Visits() - 1
		}
		for range n {
			sol.AddUnassigned(m.ID, domain.ReasonJobKilled)
		}
	}
	sol.Status = domain.StatusKilled
	sol.Solvers = []string{string(ports.SolverLocal)}
	sol.ElapsedMs = time.Since(start).Milliseconds()
	sol.Normalize()
	return sol
}

// open starts the route of res on day and replays its initial stops.
func (s *LocalSolver) open(r *localRun, res *domain.Resource, day int) (*routeBuilder, bool) {
	var tw domain.TimeWindow
	if day == domain.NoDay {
		tw = res.Windows()[0]
	} else {
		var ok bool
		if tw, ok = res.WindowOn(day); !ok {
			return nil, false
		}
	}
	mat, ok := r.inst.Matrix(res.MatrixID)
	if !ok && len(r.inst.Matrices) > 0 {
		mat = &r.inst.Matrices[0]
	}
	b := &routeBuilder{
		res:      res,
		day:      day,
		window:   tw,
		matrix:   mat,
		load:     domain.NewRouteLoad(res),
		at:       tw.Start,
		location: res.StartLocationID,
	}

	for _, id := range r.seeded[fmt.Sprintf("%s|%d", res.ID, day)] {
		m, ok := r.inst.Mission(id)
		if !ok || r.remaining[id] <= 0 || !b.load.Fits(*m) {
			continue
		}
		travel, _ := s.travel(r, b, b.location, m.LocationID)
		arrival := b.at + travel
		if st, ok := m.EarliestStart(day, arrival); ok {
			arrival = st
		}
		s.visit(r, b, m, arrival)
	}
	return b, true
}

func (s *LocalSolver) travel(r *localRun, b *routeBuilder, from, to string) (int, float64) {
	if b.matrix == nil || from == "" || to == "" || from == to {
		return 0, 0
	}
	a, okA := r.locations[from]
	c, okC := r.locations[to]
	if !okA || !okC || a.MatrixIndex >= len(b.matrix.Time) || c.MatrixIndex >= len(b.matrix.Time) {
		return 0, 0
	}
	var dist float64
	if len(b.matrix.Distance) > a.MatrixIndex && len(b.matrix.Distance[a.MatrixIndex]) > c.MatrixIndex {
		dist = b.matrix.Distance[a.MatrixIndex][c.MatrixIndex]
	}
	return int(b.matrix.Time[a.MatrixIndex][c.MatrixIndex]), dist
}

// nearest selects the next stop of b by minimum travel duration. Ties go to
// the smallest mission id so results are deterministic.
func (s *LocalSolver) nearest(r *localRun, b *routeBuilder) (*domain.Mission, int, int, bool) {
	var best *domain.Mission
	bestArrival, bestTravel := 0, math.MaxInt
	for i := range r.inst.Missions {
		m := &r.inst.Missions[i]
		if r.remaining[m.ID] <= 0 || !b.res.Serves(*m) || !b.load.Fits(*m) {
			continue
		}
		if b.day != domain.NoDay && !m.LapseAllows(r.assigned[m.ID], b.day) {
			continue
		}
		travel, _ := s.travel(r, b, b.location, m.LocationID)
		arrival := b.at + travel
		if b.location != m.LocationID {
			arrival += m.SetupDuration
		}
		startAt, ok := m.EarliestStart(b.day, arrival)
		if !ok {
			continue
		}
		back, _ := s.travel(r, b, m.LocationID, b.res.EndLocationID)
		end := startAt + m.Duration + back
		if b.window.End > b.window.Start && end > b.window.End {
			continue
		}
		if b.res.Duration > 0 && end-b.window.Start > b.res.Duration {
			continue
		}
		if !r.fitsGroups(b.res, end-b.window.Start-b.duration) {
			continue
		}
		if travel < bestTravel || (travel == bestTravel && best != nil && m.ID < best.ID) {
			best, bestArrival, bestTravel = m, startAt, travel
		}
	}
	return best, bestArrival, bestTravel, best != nil
}

func (s *LocalSolver) visit(r *localRun, b *routeBuilder, m *domain.Mission, startAt int) {
	if err := b.load.Load(*m); err != nil {
		s.logger.Warn("local solver skipped overloading stop", zap.Error(err))
		return
	}
	_, dist := s.travel(r, b, b.location, m.LocationID)
	if startAt < b.at {
		startAt = b.at
	}
	b.stops = append(b.stops, domain.Stop{MissionID: m.ID, LocationID: m.LocationID, Arrival: startAt})
	b.at = startAt + m.Duration
	b.distance += dist
	b.location = m.LocationID

	back, _ := s.travel(r, b, b.location, b.res.EndLocationID)
	duration := b.at + back - b.window.Start
	for _, g := range r.groups[b.res.ID] {
		g.used += duration - b.duration
	}
	b.duration = duration

	r.remaining[m.ID]--
	r.assigned[m.ID] = append(r.assigned[m.ID], b.day)
	r.used[b.res.ID] = true
}

// close appends the finished route of b with its costs and reports progress.
func (s *LocalSolver) close(r *localRun, b *routeBuilder) {
	route := domain.Route{ResourceID: b.res.ID, Day: b.day, Stops: b.stops, Start: b.window.Start, End: b.window.Start}
	if len(b.stops) == 0 {
		route.Stops = []domain.Stop{}
	} else {
		back, dist := s.travel(r, b, b.location, b.res.EndLocationID)
		route.End = b.at + back
		route.Distance = b.distance + dist
		r.sol.Cost.Fixed += b.res.CostFixed
		r.sol.Cost.Time += float64(route.Duration()) * b.res.CostTimeMultiplier
	}
	r.sol.Routes = append(r.sol.Routes, route)

	r.done++
	adv, tot := r.done, r.total
	if r.progress != nil {
		r.progress(ports.Progress{
			Source:      string(ports.SolverLocal),
			Advancement: &adv,
			Total:       &tot,
			Message:     fmt.Sprintf("local solver - route %s day %d", b.res.ID, b.day),
		})
	}
}
