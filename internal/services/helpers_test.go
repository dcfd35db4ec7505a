package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubGateway answers with whatever solve returns for the n-th call (1-based).
type stubGateway struct {
	kind    ports.SolverKind
	reasons []string
	sync    bool
	solve   func(ctx context.Context, inst *domain.ProblemInstance, call int) (*domain.Solution, error)

	mu    sync.Mutex
	calls int
}

func (g *stubGateway) Kind() ports.SolverKind {
	if g.kind == "" {
		return ports.SolverLocal
	}
	return g.kind
}

func (g *stubGateway) InapplicabilityReasons(*domain.ProblemInstance) []string { return g.reasons }

func (g *stubGateway) SolveSynchronous(*domain.ProblemInstance) bool { return g.sync }

func (g *stubGateway) Solve(ctx context.Context, inst *domain.ProblemInstance, _ string, progress ports.ProgressFunc) (*domain.Solution, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	ports.Report(progress, fmt.Sprintf("stub call %d", call))
	if g.solve == nil {
		return assignFirst(inst, inst.Visits()), nil
	}
	return g.solve(ctx, inst, call)
}

func (g *stubGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// assignFirst routes the first n visits round-robin over the resources, each
// route spanning its resource's whole window, and leaves the rest unassigned.
func assignFirst(inst *domain.ProblemInstance, n int) *domain.Solution {
	sol := &domain.Solution{Status: domain.StatusSolved, Routes: []domain.Route{}}
	if len(inst.Resources) == 0 {
		n = 0
	}
	for _, r := range inst.Resources {
		tw := r.Windows()[0]
		sol.Routes = append(sol.Routes, domain.Route{ResourceID: r.ID, Day: domain.NoDay, Stops: []domain.Stop{}, Start: tw.Start, End: tw.End})
	}
	k := 0
	for _, m := range inst.Missions {
		for range m.Visits() {
			if k < n {
				r := &sol.Routes[k%len(sol.Routes)]
				r.Stops = append(r.Stops, domain.Stop{MissionID: m.ID, LocationID: m.LocationID})
			} else {
				sol.AddUnassigned(m.ID, domain.ReasonNotPlanned)
			}
			k++
		}
	}
	return sol
}

func mission(id string, skills ...string) domain.Mission {
	return domain.Mission{ID: id, LocationID: "l" + id, Duration: 600, Skills: skills}
}

func resource(id string, skills ...string) domain.Resource {
	r := domain.Resource{ID: id, TimeWindow: &domain.TimeWindow{Start: 0, End: 36000}}
	if len(skills) > 0 {
		r.Skills = [][]string{skills}
	}
	return r
}

// withLocations adds one location per mission on a line of increasing longitude.
func withLocations(inst *domain.ProblemInstance) *domain.ProblemInstance {
	for i, m := range inst.Missions {
		inst.Locations = append(inst.Locations, domain.Location{
			ID:          m.LocationID,
			Coordinates: domain.Coordinates{Lon: 2 + 0.01*float64(i), Lat: 48},
			MatrixIndex: i,
		})
	}
	return inst
}
