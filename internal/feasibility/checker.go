// Package feasibility flags missions that no resource of an instance could
// ever serve, before any solver sees them.
package feasibility

import (
	"route-decomposition-service/internal/domain"
)

const (
	ReasonNoSkilledResource = "no resource has the required skills"
	ReasonTooLong           = "service duration exceeds every resource work time"
	ReasonCapacity          = "quantity exceeds every compatible resource capacity"
	ReasonNoWindowOverlap   = "no time window overlaps a compatible resource window"
)

type Checker struct{}

func NewChecker() *Checker { return &Checker{} }

// DetectUnfeasible maps each mission that cannot be served to its reasons,
// joined with "; ".
func (c *Checker) DetectUnfeasible(inst *domain.ProblemInstance) map[string]string {
	out := map[string]string{}
	if len(inst.Resources) == 0 {
		return out
	}
	for _, m := range inst.Missions {
		var compatible []domain.Resource
		for _, r := range inst.Resources {
			if r.Serves(m) {
				compatible = append(compatible, r)
			}
		}
		if len(compatible) == 0 {
			out[m.ID] = ReasonNoSkilledResource
			continue
		}

		var reasons []string
		if !fitsAnyWorkTime(m, compatible) {
			reasons = append(reasons, ReasonTooLong)
		}
		if !fitsAnyCapacity(m, compatible) {
			reasons = append(reasons, ReasonCapacity)
		}
		if !overlapsAnyWindow(m, compatible) {
			reasons = append(reasons, ReasonNoWindowOverlap)
		}
		if len(reasons) > 0 {
			out[m.ID] = domain.JoinReasons(reasons...)
		}
	}
	return out
}

func fitsAnyWorkTime(m domain.Mission, rs []domain.Resource) bool {
	need := m.Duration + m.SetupDuration
	for _, r := range rs {
		if need <= r.WorkTime() {
			return true
		}
	}
	return false
}

func fitsAnyCapacity(m domain.Mission, rs []domain.Resource) bool {
	for _, r := range rs {
		if domain.NewRouteLoad(&r).Fits(m) {
			return true
		}
	}
	return false
}

func overlapsAnyWindow(m domain.Mission, rs []domain.Resource) bool {
	if len(m.TimeWindows) == 0 {
		return true
	}
	for _, r := range rs {
		for _, rw := range r.Windows() {
			for _, mw := range m.TimeWindows {
				if mw.DayIndex != nil && rw.DayIndex != nil && *mw.DayIndex != *rw.DayIndex {
					continue
				}
				if overlaps(mw, rw) {
					return true
				}
			}
		}
	}
	return false
}

// overlaps treats a window whose end is not after its start as open-ended.
func overlaps(a, b domain.TimeWindow) bool {
	aEnd, bEnd := a.End, b.End
	if aEnd <= a.Start {
		aEnd = 1 << 30
	}
	if bEnd <= b.Start {
		bEnd = 1 << 30
	}
	return a.Start <= bEnd && b.Start <= aEnd
}
