package domain

import (
	"cmp"
	"slices"
	"strings"
)

// NoDay marks routes of instances without a schedule.
const NoDay = -1

type Status string

const (
	StatusSolved Status = "solved"
	StatusKilled Status = "killed"
)

// Stop is one visit of a mission within a route.
type Stop struct {
	MissionID  string `json:"mission_id"`
	LocationID string `json:"location_id"`
	Arrival    int    `json:"arrival"`
}

// Route is the ordered list of stops performed by a resource on one day.
type Route struct {
	ResourceID string  `json:"resource_id"`
	Day        int     `json:"day"`
	Stops      []Stop  `json:"stops"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Distance   float64 `json:"distance,omitempty"`
}

func (r Route) Duration() int { return r.End - r.Start }

type UnassignedMission struct {
	MissionID string `json:"mission_id"`
	Reason    string `json:"reason"`
}

type CostInfo struct {
	Fixed     float64 `json:"fixed"`
	Time      float64 `json:"time"`
	Distance  float64 `json:"distance"`
	Exclusion float64 `json:"exclusion"`
}

func (c CostInfo) Total() float64 { return c.Fixed + c.Time + c.Distance + c.Exclusion }

func (c CostInfo) Add(o CostInfo) CostInfo {
	return CostInfo{
		Fixed:     c.Fixed + o.Fixed,
		Time:      c.Time + o.Time,
		Distance:  c.Distance + o.Distance,
		Exclusion: c.Exclusion + o.Exclusion,
	}
}

type Solution struct {
	Routes           []Route             `json:"routes"`
	Unassigned       []UnassignedMission `json:"unassigned"`
	ElapsedMs        int64               `json:"elapsed"`
	Cost             CostInfo            `json:"cost_details"`
	Solvers          []string            `json:"solvers"`
	Status           Status              `json:"status"`
	ChosenRepetition int                 `json:"chosen_repetition,omitempty"`
}

// AssignedCount is the number of visits present in routes.
func (s *Solution) AssignedCount() int {
	n := 0
	for _, r := range s.Routes {
		n += len(r.Stops)
	}
	return n
}

// AssignedDays maps each mission to the days it is visited on.
func (s *Solution) AssignedDays() map[string][]int {
	out := map[string][]int{}
	for _, r := range s.Routes {
		for _, st := range r.Stops {
			out[st.MissionID] = append(out[st.MissionID], r.Day)
		}
	}
	return out
}

func (s *Solution) Clone() *Solution {
	out := *s
	out.Routes = make([]Route, len(s.Routes))
	for i, r := range s.Routes {
		r.Stops = slices.Clone(r.Stops)
		out.Routes[i] = r
	}
	out.Unassigned = slices.Clone(s.Unassigned)
	out.Solvers = slices.Clone(s.Solvers)
	return &out
}

// RemoveEmptyRoutes drops routes without stops.
func (s *Solution) RemoveEmptyRoutes() {
	s.Routes = slices.DeleteFunc(s.Routes, func(r Route) bool { return len(r.Stops) == 0 })
}

// AddUnassigned records a visit as unassigned, joining reasons already known
// for the same mission.
func (s *Solution) AddUnassigned(missionID string, reasons ...string) {
	s.Unassigned = append(s.Unassigned, UnassignedMission{MissionID: missionID, Reason: JoinReasons(reasons...)})
}

// JoinReasons joins distinct non-empty reasons with "; ".
func JoinReasons(reasons ...string) string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		for _, part := range strings.Split(r, "; ") {
			if part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return strings.Join(out, "; ")
}

// Normalize orders routes by (resource, day) and unassigned entries by mission
// so that merged results do not depend on completion order.
func (s *Solution) Normalize() {
	slices.SortStableFunc(s.Routes, func(a, b Route) int {
		return cmp.Or(cmp.Compare(a.ResourceID, b.ResourceID), cmp.Compare(a.Day, b.Day))
	})
	slices.SortStableFunc(s.Unassigned, func(a, b UnassignedMission) int {
		return cmp.Or(cmp.Compare(a.MissionID, b.MissionID), cmp.Compare(a.Reason, b.Reason))
	})
}

// MergeSolutions unions routes and unassigned entries, sums elapsed time and
// costs, and concatenates solver lists. Nil inputs are ignored.
func MergeSolutions(sols ...*Solution) *Solution {
	out := &Solution{Status: StatusSolved, Routes: []Route{}, Unassigned: []UnassignedMission{}}
	for _, s := range sols {
		if s == nil {
			continue
		}
		c := s.Clone()
		out.Routes = append(out.Routes, c.Routes...)
		out.Unassigned = append(out.Unassigned, c.Unassigned...)
		out.ElapsedMs += c.ElapsedMs
		out.Cost = out.Cost.Add(c.Cost)
		out.Solvers = append(out.Solvers, c.Solvers...)
		if c.Status == StatusKilled {
			out.Status = StatusKilled
		}
	}
	out.Normalize()
	return out
}

// CheckConsistency verifies that every expected visit is either routed or unassigned.
func CheckConsistency(expected int, s *Solution) error {
	assigned := s.AssignedCount()
	if assigned+len(s.Unassigned) != expected {
		return &InconsistencyError{Expected: expected, Assigned: assigned, Unassigned: len(s.Unassigned)}
	}
	return nil
}

// UnassignedSolution reports every visit of the instance as unassigned.
func UnassignedSolution(p *ProblemInstance, reason string) *Solution {
	s := &Solution{Status: StatusSolved, Routes: []Route{}}
	for _, m := range p.Missions {
		for range m.Visits() {
			s.AddUnassigned(m.ID, reason)
		}
	}
	return s
}
