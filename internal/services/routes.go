package services

import (
	"route-decomposition-service/internal/domain"
)

// findResource matches a route's resource id against ids and original ids.
func findResource(inst *domain.ProblemInstance, id string) (*domain.Resource, bool) {
	if r, ok := inst.Resource(id); ok {
		return r, true
	}
	for i := range inst.Resources {
		if inst.Resources[i].BaseID() == id {
			return &inst.Resources[i], true
		}
	}
	return nil, false
}

// removePoorlyPopulatedRoutes unassigns the stops of every route using less
// than ratio of its resource's work time.
func removePoorlyPopulatedRoutes(inst *domain.ProblemInstance, sol *domain.Solution, ratio float64) int {
	if sol == nil || ratio <= 0 {
		return 0
	}
	removed := 0
	kept := sol.Routes[:0]
	for _, r := range sol.Routes {
		res, ok := findResource(inst, r.ResourceID)
		if len(r.Stops) == 0 || !ok || float64(r.Duration()) >= ratio*float64(res.WorkTime()) {
			kept = append(kept, r)
			continue
		}
		for _, st := range r.Stops {
			sol.AddUnassigned(st.MissionID, domain.ReasonPoorlyPopulated)
		}
		removed++
	}
	sol.Routes = kept
	return removed
}

// removeBadSkills unassigns stops whose resource does not cover the mission skills.
func removeBadSkills(inst *domain.ProblemInstance, sol *domain.Solution) {
	sol.RemoveEmptyRoutes()
	for i := range sol.Routes {
		r := &sol.Routes[i]
		res, ok := findResource(inst, r.ResourceID)
		if !ok {
			continue
		}
		stops := r.Stops[:0]
		for _, st := range r.Stops {
			m, ok := inst.Mission(st.MissionID)
			if ok && len(m.Skills) > 0 && !domain.Covers(res.Skills, m.Skills) {
				sol.AddUnassigned(st.MissionID, domain.ReasonSkillsMismatch)
				continue
			}
			stops = append(stops, st)
		}
		r.Stops = stops
	}
	sol.RemoveEmptyRoutes()
}

// killedSolution returns partial, or every visit unassigned when nothing was
// produced, flagged as killed.
func killedSolution(inst *domain.ProblemInstance, partial *domain.Solution) *domain.Solution {
	sol := partial
	if sol == nil {
		sol = domain.UnassignedSolution(inst, domain.ReasonJobKilled)
	}
	sol.Status = domain.StatusKilled
	return sol
}
