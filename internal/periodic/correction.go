package periodic

import (
	"cmp"
	"route-decomposition-service/internal/domain"
	"slices"

	"go.uber.org/zap"
)

// sequenceLimit bounds the day sequences scored per mission and resource.
const sequenceLimit = 50000

// CorrectPoorlyPopulatedRoutes drops every route whose stops are worth less
// than its fixed cost, until none is left, then plans the removed visits
// again. It returns the number of routes dropped.
func (r *Repairer) CorrectPoorlyPopulatedRoutes() int {
	r.removed = map[string]int{}
	dropped := r.dropPoorlyPopulated()
	if len(r.removed) == 0 {
		return dropped
	}

	before := len(r.removed)
	if r.opts.AllowPartialAssignment {
		r.reaffectInNonEmptyRoutes()
		r.generateNewRoutes()
	} else {
		r.reaffectProhibitingPartial()
		dropped += r.dropPoorlyPopulated()
	}
	r.logger.Debug("removed visits reaffected",
		zap.Int("missions_before", before),
		zap.Int("missions_after", len(r.removed)),
	)
	return dropped
}

func (r *Repairer) dropPoorlyPopulated() int {
	dropped := 0
	for {
		changed := false
		for _, c := range r.routes {
			if c.Empty() || r.exclusionSum(c) >= c.FixedCost {
				continue
			}
			changed = true
			dropped++
			for _, id := range stopIDs(c) {
				n := r.remove(c, id)
				sa := r.services[id]
				r.addReason(sa, domain.ReasonPoorlyPopulated)
				if r.opts.AllowPartialAssignment {
					r.removed[id] += n
					continue
				}
				r.clear(id)
				r.removed[id] = sa.Mission.Visits()
			}
		}
		if !changed {
			return dropped
		}
	}
}

func stopIDs(c *CandidateRoute) []string {
	var ids []string
	for _, st := range c.Stops {
		if !slices.Contains(ids, st.MissionID) {
			ids = append(ids, st.MissionID)
		}
	}
	return ids
}

func (r *Repairer) removedIDs() []string {
	var ids []string
	for _, id := range r.order {
		if r.removed[id] > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Repairer) reduceRemoved(id string) {
	r.removed[id]--
	if r.removed[id] <= 0 {
		delete(r.removed, id)
	}
}

// allowedOn reports whether one more visit of the mission may go on c.
func (r *Repairer) allowedOn(sa *ServiceAssignment, c *CandidateRoute) bool {
	if !slices.Contains(sa.Resources, c.Resource.ID) {
		return false
	}
	lo, hi := lapseBounds(sa.Mission.MinimumLapse, sa.Mission.MaximumLapse)
	return len(DaysRespectingLapse([]int{c.Day}, sa.Days, lo, hi)) == 1
}

// cheapest picks the candidate with the lowest priority-weighted cost.
func (r *Repairer) cheapest(candidates []insertion) insertion {
	maxPriority := 1
	for _, ins := range candidates {
		maxPriority = max(maxPriority, r.missions[ins.missionID].Priority+1)
	}
	cost := func(ins insertion) float64 {
		m := r.missions[ins.missionID]
		v := float64(m.Visits())
		return r.priorityWeight(m, maxPriority) * float64(ins.added) / (v * v)
	}
	return slices.MinFunc(candidates, func(a, b insertion) int { return cmp.Compare(cost(a), cost(b)) })
}

// reaffectInNonEmptyRoutes inserts removed visits into routes already in use,
// each on the day closest to its other visits.
func (r *Repairer) reaffectInNonEmptyRoutes() {
	for len(r.removed) > 0 {
		var candidates []insertion
		for _, id := range r.removedIDs() {
			sa := r.services[id]
			var best insertion
			bestLapse, found := 0, false
			for _, c := range r.routes {
				if c.Empty() || !r.allowedOn(sa, c) {
					continue
				}
				ins, ok := r.bestPosition(c, sa.Mission)
				if !ok {
					continue
				}
				lapse := nearest(sa.Days, c.Day)
				if !found || lapse < bestLapse {
					best, bestLapse, found = ins, lapse, true
				}
			}
			if found {
				candidates = append(candidates, best)
			}
		}
		if len(candidates) == 0 {
			return
		}
		pick := r.cheapest(candidates)
		if !r.insert(pick) {
			return
		}
		r.reduceRemoved(pick.missionID)
	}
}

func nearest(used []int, day int) int {
	if len(used) == 0 {
		return 0
	}
	d := abs(used[0] - day)
	for _, u := range used[1:] {
		d = min(d, abs(u-day))
	}
	return d
}

type routeShape struct {
	start, end string
	span       int
}

// generateNewRoutes opens empty routes one at a time and fills them with
// removed visits, closing them again when they do not pay their fixed cost.
func (r *Repairer) generateNewRoutes() {
	var empty []*CandidateRoute
	for _, c := range r.routes {
		if c.Empty() {
			empty = append(empty, c)
		}
	}

	var failed *routeShape
	for len(r.removed) > 0 && len(empty) > 0 {
		c := r.chooseBestRoute(empty)
		empty = slices.DeleteFunc(empty, func(e *CandidateRoute) bool { return e == c })

		shape := routeShape{c.StartID, c.EndID, c.Window.Length()}
		if failed != nil && *failed == shape {
			continue
		}

		r.fill(c)
		if c.Empty() || r.exclusionSum(c) < c.FixedCost {
			for _, id := range stopIDs(c) {
				r.remove(c, id)
			}
			failed = &shape
			continue
		}
		failed = nil
		for _, st := range c.Stops {
			r.reduceRemoved(st.MissionID)
		}
	}
}

func (r *Repairer) fill(c *CandidateRoute) {
	for {
		var candidates []insertion
		for _, id := range r.removedIDs() {
			sa := r.services[id]
			if !r.allowedOn(sa, c) {
				continue
			}
			if ins, ok := r.bestPosition(c, sa.Mission); ok {
				candidates = append(candidates, ins)
			}
		}
		if len(candidates) == 0 {
			return
		}
		if !r.insert(r.cheapest(candidates)) {
			return
		}
	}
}

// chooseBestRoute prefers the route closest to the removed missions, then
// the widest window, then the resource with the most empty days (an unused
// resource counts as none), then the earliest day.
func (r *Repairer) chooseBestRoute(empty []*CandidateRoute) *CandidateRoute {
	ids := r.removedIDs()
	closeness := func(c *CandidateRoute) float64 {
		var sum float64
		n := 0
		for _, id := range ids {
			loc := r.missions[id].LocationID
			for _, store := range []string{c.StartID, c.EndID} {
				sum += float64(r.travel(c, store, loc))
				n++
			}
		}
		if n == 0 {
			return 0
		}
		return -sum / float64(n)
	}
	emptyDays := func(c *CandidateRoute) float64 {
		routes := r.byRes[c.Resource.ID]
		n := 0
		for _, rc := range routes {
			if rc.Empty() {
				n++
			}
		}
		if n == len(routes) {
			return 0
		}
		return float64(n)
	}

	pool := keepBest(empty, closeness)
	pool = keepBest(pool, func(c *CandidateRoute) float64 { return float64(c.Window.Length()) })
	pool = keepBest(pool, emptyDays)
	return slices.MinFunc(pool, func(a, b *CandidateRoute) int { return cmp.Compare(a.Day, b.Day) })
}

func keepBest(pool []*CandidateRoute, score func(*CandidateRoute) float64) []*CandidateRoute {
	var out []*CandidateRoute
	var best float64
	for _, c := range pool {
		s := score(c)
		switch {
		case len(out) == 0 || s > best:
			out, best = []*CandidateRoute{c}, s
		case s == best:
			out = append(out, c)
		}
	}
	return out
}

type plannedSequence struct {
	missionID string
	steps     []insertion
	cost      int
	empties   int
}

// reaffectProhibitingPartial plans removed missions all visits at once, most
// important and most frequent first. A group with no acceptable sequence is
// banned for the rest of the pass.
func (r *Repairer) reaffectProhibitingPartial() {
	banned := map[string]bool{}
	for {
		group := r.priorityGroup(banned)
		if len(group) == 0 {
			return
		}
		for len(group) > 0 {
			seq, ok := r.bestSequence(group)
			if !ok {
				for _, id := range group {
					banned[id] = true
				}
				break
			}
			if !r.insertAll(seq.steps) {
				r.clear(seq.missionID)
				banned[seq.missionID] = true
				group = slices.DeleteFunc(group, func(id string) bool { return id == seq.missionID })
				continue
			}
			delete(r.removed, seq.missionID)
			r.services[seq.missionID].Reasons = nil
			group = slices.DeleteFunc(group, func(id string) bool { return id == seq.missionID })
		}
	}
}

func (r *Repairer) insertAll(steps []insertion) bool {
	for _, ins := range steps {
		if !r.insert(ins) {
			return false
		}
	}
	return true
}

// priorityGroup returns the removed missions with the lowest priority value
// and, among them, the highest visit count.
func (r *Repairer) priorityGroup(banned map[string]bool) []string {
	var group []string
	for _, id := range r.removedIDs() {
		if banned[id] {
			continue
		}
		if len(group) == 0 {
			group = []string{id}
			continue
		}
		m, ref := r.missions[id], r.missions[group[0]]
		switch {
		case m.Priority < ref.Priority || (m.Priority == ref.Priority && m.Visits() > ref.Visits()):
			group = []string{id}
		case m.Priority == ref.Priority && m.Visits() == ref.Visits():
			group = append(group, id)
		}
	}
	return group
}

// bestSequence scores the day sequences of every mission in group. Sequences
// using only routes already in use win; otherwise at most a third of the
// visits may open a route, fewest openings first. Cost breaks ties.
func (r *Repairer) bestSequence(group []string) (plannedSequence, bool) {
	var full, relaxed plannedSequence
	hasFull, hasRelaxed := false, false

	for _, id := range group {
		sa := r.services[id]
		m := sa.Mission
		lo, hi := lapseBounds(m.MinimumLapse, m.MaximumLapse)
		for _, resID := range sa.Resources {
			options := map[int]insertion{}
			var days []int
			for _, c := range r.byRes[resID] {
				if ins, ok := r.bestPosition(c, m); ok {
					options[c.Day] = ins
					days = append(days, c.Day)
				}
			}

			seen := 0
			for seq := range DaySequences(days, m.Visits(), lo, hi) {
				if seen++; seen > sequenceLimit {
					break
				}
				ps := plannedSequence{missionID: id}
				for _, d := range seq {
					ins := options[d]
					ps.steps = append(ps.steps, ins)
					ps.cost += ins.added
					if ins.route.Empty() {
						ps.empties++
					}
				}
				switch {
				case ps.empties == 0:
					if !hasFull || ps.cost < full.cost {
						full, hasFull = ps, true
					}
				case float64(ps.empties) <= float64(m.Visits())/3:
					if !hasRelaxed || ps.empties < relaxed.empties ||
						(ps.empties == relaxed.empties && ps.cost < relaxed.cost) {
						relaxed, hasRelaxed = ps, true
					}
				}
			}
		}
	}
	if hasFull {
		return full, true
	}
	return relaxed, hasRelaxed
}
