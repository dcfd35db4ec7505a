// Package periodic repairs multi-day solutions: it completes missing visits
// of recurring missions under lapse constraints and drops routes that cost
// more than the visits they carry.
package periodic

import (
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
	"slices"
	"strings"

	"go.uber.org/zap"
)

type Options struct {
	// AllowPartialAssignment lets a mission keep some of its visits when the
	// others cannot be planned.
	AllowPartialAssignment bool
}

// ServiceAssignment tracks the planned days of one mission.
// Missing + len(Days) equals the required visits between operations.
type ServiceAssignment struct {
	Mission   *domain.Mission
	Days      []int
	Missing   int
	Resources []string
	Reasons   []string
}

// Repairer owns the candidate routes of one solution for one repair pass.
type Repairer struct {
	inst      *domain.ProblemInstance
	opts      Options
	logger    *zap.Logger
	days      []int
	routes    []*CandidateRoute
	byRes     map[string][]*CandidateRoute
	missions  map[string]*domain.Mission
	locations map[string]domain.Location
	services  map[string]*ServiceAssignment
	order     []string
	foreign   []domain.Route
	extra     []domain.UnassignedMission
	removed   map[string]int
	base      *domain.Solution
}

// NewRepairer builds one candidate route per resource and schedule day and
// loads the routes of sol into them.
func NewRepairer(inst *domain.ProblemInstance, sol *domain.Solution, opts Options, logger *zap.Logger) *Repairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repairer{
		inst:      inst,
		opts:      opts,
		logger:    logger,
		byRes:     map[string][]*CandidateRoute{},
		missions:  map[string]*domain.Mission{},
		locations: inst.LocationIndex(),
		services:  map[string]*ServiceAssignment{},
		removed:   map[string]int{},
		base:      sol,
	}
	if inst.Configuration.Schedule != nil {
		r.days = inst.Configuration.Schedule.Days()
	}

	for i := range inst.Resources {
		res := &inst.Resources[i]
		mat := r.matrixFor(res)
		for _, day := range r.days {
			tw, ok := res.WindowOn(day)
			if !ok {
				continue
			}
			c := &CandidateRoute{
				Resource:  res,
				Day:       day,
				Window:    tw,
				FixedCost: res.CostFixed,
				StartID:   res.StartLocationID,
				EndID:     res.EndLocationID,
				load:      domain.NewRouteLoad(res),
				matrix:    mat,
			}
			r.routes = append(r.routes, c)
			r.byRes[res.ID] = append(r.byRes[res.ID], c)
		}
	}

	for i := range inst.Missions {
		m := &inst.Missions[i]
		sa := &ServiceAssignment{Mission: m, Missing: m.Visits()}
		for _, res := range inst.Resources {
			if res.Serves(*m) {
				sa.Resources = append(sa.Resources, res.ID)
			}
		}
		r.missions[m.ID] = m
		r.services[m.ID] = sa
		r.order = append(r.order, m.ID)
	}

	for _, route := range sol.Routes {
		c := r.routeOf(route.ResourceID, route.Day)
		if c == nil {
			r.foreign = append(r.foreign, route)
			continue
		}
		var ms []domain.Mission
		for _, st := range route.Stops {
			if m, ok := r.missions[st.MissionID]; ok {
				ms = append(ms, *m)
			}
		}
		rejected := c.load.LoadMultiple(ms)
		for _, m := range ms {
			sa := r.services[m.ID]
			if i := slices.IndexFunc(rejected, func(x domain.Mission) bool { return x.ID == m.ID }); i >= 0 {
				rejected = slices.Delete(rejected, i, i+1)
				r.addReason(sa, domain.ReasonOverCapacity)
				r.logger.Warn("visit exceeds route capacity",
					zap.String("resource", c.Resource.ID),
					zap.Int("day", c.Day),
					zap.String("mission", m.ID),
				)
				continue
			}
			c.Stops = append(c.Stops, domain.Stop{MissionID: m.ID})
			sa.Days = append(sa.Days, c.Day)
			sa.Missing--
		}
		c.duration, _ = r.schedule(c, c.Stops)
	}
	for _, sa := range r.services {
		slices.Sort(sa.Days)
	}

	for _, u := range sol.Unassigned {
		sa, ok := r.services[u.MissionID]
		if !ok {
			r.extra = append(r.extra, u)
			continue
		}
		if u.Reason != "" && !slices.Contains(sa.Reasons, u.Reason) {
			sa.Reasons = append(sa.Reasons, u.Reason)
		}
	}
	return r
}

func (r *Repairer) matrixFor(res *domain.Resource) *domain.Matrix {
	if m, ok := r.inst.Matrix(res.MatrixID); ok {
		return m
	}
	if len(r.inst.Matrices) > 0 {
		return &r.inst.Matrices[0]
	}
	return nil
}

// routeOf resolves the candidate route of a solver route, whose resource may
// be a per-day variant named "<id>_<suffix>".
func (r *Repairer) routeOf(resourceID string, day int) *CandidateRoute {
	routes, ok := r.byRes[resourceID]
	if !ok {
		for id, rs := range r.byRes {
			if strings.HasPrefix(resourceID, id+"_") {
				routes = rs
				break
			}
		}
	}
	for _, c := range routes {
		if c.Day == day {
			return c
		}
	}
	return nil
}

// Services exposes the assignment state of a mission.
func (r *Repairer) Services(missionID string) (ServiceAssignment, bool) {
	sa, ok := r.services[missionID]
	if !ok {
		return ServiceAssignment{}, false
	}
	return *sa, true
}

// Run adds missing visits when partial assignment is allowed, then corrects
// poorly populated routes unless no mission has an exclusion cost.
func (r *Repairer) Run(progress ports.ProgressFunc) {
	if r.opts.AllowPartialAssignment {
		ports.Report(progress, "periodic heuristic - adding missing visits")
		n := r.AddMissingVisits()
		r.logger.Debug("missing visits added", zap.Int("visits", n))
	}
	if slices.ContainsFunc(r.inst.Missions, func(m domain.Mission) bool { return m.ExclusionCost != 0 }) {
		ports.Report(progress, "periodic heuristic - correcting poorly populated routes")
		n := r.CorrectPoorlyPopulatedRoutes()
		r.logger.Debug("poorly populated routes removed", zap.Int("routes", n))
	}
	if !r.opts.AllowPartialAssignment {
		r.unassignIncomplete()
	}
}

// unassignIncomplete takes every visit of partially planned missions off
// their routes.
func (r *Repairer) unassignIncomplete() {
	for _, id := range r.order {
		sa := r.services[id]
		if sa.Missing > 0 && len(sa.Days) > 0 {
			r.clear(id)
			r.addReason(sa, domain.ReasonNotPlanned)
		}
	}
}

func (r *Repairer) addReason(sa *ServiceAssignment, reason string) {
	if !slices.Contains(sa.Reasons, reason) {
		sa.Reasons = append(sa.Reasons, reason)
	}
}

func (r *Repairer) priorityWeight(m *domain.Mission, maxPriority int) float64 {
	return float64(m.Priority+1) / float64(maxPriority)
}

// candidateFor returns the insertion of one more visit of the mission on the
// earliest lapse-respecting day of each compatible resource, the one adding
// the least route time overall.
func (r *Repairer) candidateFor(id string, accept func(*CandidateRoute) bool) (insertion, bool) {
	sa := r.services[id]
	m := sa.Mission
	lo, hi := lapseBounds(m.MinimumLapse, m.MaximumLapse)

	var best insertion
	found := false
	for _, resID := range sa.Resources {
		routes := r.byRes[resID]
		days := make([]int, 0, len(routes))
		byDay := map[int]*CandidateRoute{}
		for _, c := range routes {
			if accept == nil || accept(c) {
				days = append(days, c.Day)
				byDay[c.Day] = c
			}
		}
		for _, day := range DaysRespectingLapse(days, sa.Days, lo, hi) {
			ins, ok := r.bestPosition(byDay[day], m)
			if !ok {
				continue
			}
			if !found || ins.added < best.added {
				best, found = ins, true
			}
			break
		}
	}
	return best, found
}

// AddMissingVisits inserts missing visits one at a time, always the one with
// the lowest priority-weighted insertion cost. It returns the number of
// visits inserted.
func (r *Repairer) AddMissingVisits() int {
	cache := map[string]insertion{}
	for _, id := range r.order {
		if r.services[id].Missing <= 0 {
			continue
		}
		if ins, ok := r.candidateFor(id, nil); ok {
			cache[id] = ins
		}
	}

	inserted := 0
	for len(cache) > 0 {
		maxPriority := 1
		for id := range cache {
			maxPriority = max(maxPriority, r.missions[id].Priority+1)
		}
		var bestID string
		var bestCost float64
		for _, id := range r.order {
			ins, ok := cache[id]
			if !ok {
				continue
			}
			m := r.missions[id]
			v := float64(m.Visits())
			cost := r.priorityWeight(m, maxPriority) * (float64(ins.added) / (v * v))
			if bestID == "" || cost < bestCost {
				bestID, bestCost = id, cost
			}
		}

		ins := cache[bestID]
		if !r.insert(ins) {
			delete(cache, bestID)
			continue
		}
		inserted++
		r.logger.Debug("visit added",
			zap.String("mission", bestID),
			zap.String("resource", ins.route.Resource.ID),
			zap.Int("day", ins.route.Day),
		)

		delete(cache, bestID)
		if r.services[bestID].Missing > 0 {
			if next, ok := r.candidateFor(bestID, nil); ok {
				cache[bestID] = next
			}
		}
		for id, other := range cache {
			if other.route != ins.route {
				continue
			}
			if next, ok := r.candidateFor(id, nil); ok {
				cache[id] = next
			} else {
				delete(cache, id)
			}
		}
	}
	return inserted
}

// Solution renders the candidate routes back into a solution.
func (r *Repairer) Solution() *domain.Solution {
	out := &domain.Solution{
		Status:           domain.StatusSolved,
		Routes:           []domain.Route{},
		Unassigned:       []domain.UnassignedMission{},
		Solvers:          slices.Clone(r.base.Solvers),
		ElapsedMs:        r.base.ElapsedMs,
		ChosenRepetition: r.base.ChosenRepetition,
	}
	for _, c := range r.routes {
		if c.Empty() {
			continue
		}
		stops := slices.Clone(c.Stops)
		d, _ := r.schedule(c, stops)
		out.Routes = append(out.Routes, domain.Route{
			ResourceID: c.Resource.ID,
			Day:        c.Day,
			Stops:      stops,
			Start:      c.Window.Start,
			End:        c.Window.Start + d,
		})
		out.Cost.Fixed += c.FixedCost
		out.Cost.Time += float64(d) * c.Resource.CostTimeMultiplier
	}
	out.Routes = append(out.Routes, r.foreign...)

	for _, id := range r.order {
		sa := r.services[id]
		if sa.Missing <= 0 {
			continue
		}
		reasons := sa.Reasons
		if len(reasons) == 0 {
			reasons = []string{domain.ReasonNotPlanned}
		}
		for range sa.Missing {
			out.AddUnassigned(id, reasons...)
			out.Cost.Exclusion += sa.Mission.ExclusionCost
		}
	}
	out.Unassigned = append(out.Unassigned, r.extra...)

	out.Normalize()
	return out
}
