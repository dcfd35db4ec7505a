package periodic

import (
	"route-decomposition-service/internal/domain"
	"slices"

	"go.uber.org/zap"
)

// CandidateRoute is the working route of one resource on one schedule day.
type CandidateRoute struct {
	Resource  *domain.Resource
	Day       int
	Window    domain.TimeWindow
	FixedCost float64
	StartID   string
	EndID     string
	Stops     []domain.Stop

	load     *domain.RouteLoad
	matrix   *domain.Matrix
	duration int
}

func (c *CandidateRoute) Empty() bool { return len(c.Stops) == 0 }

// Has reports whether the route already visits the mission.
func (c *CandidateRoute) Has(missionID string) bool {
	return slices.ContainsFunc(c.Stops, func(s domain.Stop) bool { return s.MissionID == missionID })
}

// exclusionSum is what dropping every stop of the route would cost.
func (r *Repairer) exclusionSum(c *CandidateRoute) float64 {
	var sum float64
	for _, st := range c.Stops {
		sum += r.missions[st.MissionID].ExclusionCost
	}
	return sum
}

func (r *Repairer) travel(c *CandidateRoute, from, to string) int {
	if c.matrix == nil || from == "" || to == "" || from == to {
		return 0
	}
	a, okA := r.locations[from]
	b, okB := r.locations[to]
	if !okA || !okB {
		return 0
	}
	if a.MatrixIndex >= len(c.matrix.Time) || b.MatrixIndex >= len(c.matrix.Time[a.MatrixIndex]) {
		return 0
	}
	return int(c.matrix.Time[a.MatrixIndex][b.MatrixIndex])
}

// schedule times stops on c and returns the route duration. It fails when a
// mission window or the resource window cannot be met.
func (r *Repairer) schedule(c *CandidateRoute, stops []domain.Stop) (int, bool) {
	if len(stops) == 0 {
		return 0, true
	}
	t := c.Window.Start
	prev := c.StartID
	for i := range stops {
		m := r.missions[stops[i].MissionID]
		t += r.travel(c, prev, m.LocationID)
		if prev != m.LocationID {
			t += m.SetupDuration
		}
		start, ok := m.EarliestStart(c.Day, t)
		if !ok {
			return 0, false
		}
		stops[i].LocationID = m.LocationID
		stops[i].Arrival = start
		t = start + m.Duration
		prev = m.LocationID
	}
	t += r.travel(c, prev, c.EndID)

	if c.Window.End > c.Window.Start && t > c.Window.End {
		return 0, false
	}
	if c.Resource.Duration > 0 && t-c.Window.Start > c.Resource.Duration {
		return 0, false
	}
	return t - c.Window.Start, true
}

// insertion is a feasible position for one visit of a mission.
type insertion struct {
	missionID string
	route     *CandidateRoute
	pos       int
	added     int
}

// bestPosition finds the cheapest feasible position of m on c.
func (r *Repairer) bestPosition(c *CandidateRoute, m *domain.Mission) (insertion, bool) {
	if c.Has(m.ID) || !c.load.Fits(*m) {
		return insertion{}, false
	}
	var best insertion
	found := false
	for pos := 0; pos <= len(c.Stops); pos++ {
		stops := slices.Insert(slices.Clone(c.Stops), pos, domain.Stop{MissionID: m.ID})
		d, ok := r.schedule(c, stops)
		if !ok {
			continue
		}
		if added := d - c.duration; !found || added < best.added {
			best = insertion{missionID: m.ID, route: c, pos: pos, added: added}
			found = true
		}
	}
	return best, found
}

// insert applies ins. It refuses a visit the route cannot carry.
func (r *Repairer) insert(ins insertion) bool {
	c := ins.route
	m := r.missions[ins.missionID]
	if err := c.load.Load(*m); err != nil {
		r.logger.Warn("insertion refused", zap.Int("day", c.Day), zap.Error(err))
		return false
	}
	c.Stops = slices.Insert(c.Stops, ins.pos, domain.Stop{MissionID: m.ID})
	c.duration, _ = r.schedule(c, c.Stops)

	sa := r.services[m.ID]
	sa.Days = append(sa.Days, c.Day)
	slices.Sort(sa.Days)
	sa.Missing--
	return true
}

// remove takes every visit of missionID off c.
func (r *Repairer) remove(c *CandidateRoute, missionID string) int {
	n := 0
	c.Stops = slices.DeleteFunc(c.Stops, func(s domain.Stop) bool {
		if s.MissionID == missionID {
			n++
			return true
		}
		return false
	})
	if n == 0 {
		return 0
	}
	m := r.missions[missionID]
	if c.Empty() {
		c.load.Clear()
	} else {
		for range n {
			c.load.Unload(*m)
		}
	}
	c.duration, _ = r.schedule(c, c.Stops)

	sa := r.services[missionID]
	for range n {
		if i := slices.Index(sa.Days, c.Day); i >= 0 {
			sa.Days = slices.Delete(sa.Days, i, i+1)
		}
	}
	sa.Missing += n
	return n
}

// clear removes every visit of a mission from every route.
func (r *Repairer) clear(missionID string) {
	for _, c := range r.routes {
		r.remove(c, missionID)
	}
}
