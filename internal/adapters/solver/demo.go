package solver

import (
	"context"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
)

// DemoSolver answers immediately by dealing missions to resources in turn.
// It ignores every constraint and exists to exercise the pipeline.
type DemoSolver struct{}

func NewDemoSolver() *DemoSolver { return &DemoSolver{} }

func (DemoSolver) Kind() ports.SolverKind { return ports.SolverDemo }

func (DemoSolver) InapplicabilityReasons(*domain.ProblemInstance) []string { return nil }

func (DemoSolver) SolveSynchronous(*domain.ProblemInstance) bool { return true }

func (DemoSolver) Solve(ctx context.Context, inst *domain.ProblemInstance, _ string, progress ports.ProgressFunc) (*domain.Solution, error) {
	if len(inst.Resources) == 0 {
		sol := domain.UnassignedSolution(inst, domain.ReasonNoCompatibleResource)
		sol.Solvers = []string{string(ports.SolverDemo)}
		return sol, nil
	}
	day := domain.NoDay
	if inst.Configuration.Schedule != nil {
		day = inst.Configuration.Schedule.StartDay
	}
	routes := make([]domain.Route, len(inst.Resources))
	for i, r := range inst.Resources {
		routes[i] = domain.Route{ResourceID: r.ID, Day: day, Stops: []domain.Stop{}}
	}
	n := 0
	for _, m := range inst.Missions {
		for range m.Visits() {
			k := n % len(routes)
			routes[k].Stops = append(routes[k].Stops, domain.Stop{MissionID: m.ID, LocationID: m.LocationID})
			n++
		}
	}
	ports.Report(progress, "demo - done")
	sol := &domain.Solution{Status: domain.StatusSolved, Routes: routes, Solvers: []string{string(ports.SolverDemo)}}
	sol.Normalize()
	return sol, nil
}
