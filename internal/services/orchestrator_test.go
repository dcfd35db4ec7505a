package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/platform/metrics"
	"route-decomposition-service/internal/ports"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func skillInstance() *domain.ProblemInstance {
	inst := &domain.ProblemInstance{
		Missions: []domain.Mission{
			mission("m1", "A"), mission("m2", "A"),
			mission("m3", "B"), mission("m4", "B"),
			mission("m5"), mission("m6"),
		},
		Resources: []domain.Resource{resource("rA", "A"), resource("rB", "B")},
	}
	inst.Configuration.Resolution.DurationMs = 1000
	return withLocations(inst)
}

func newTestOrchestrator(cfg OrchestratorConfig, gateways ...ports.SolverGateway) (*Orchestrator, tally.TestScope, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	scope := tally.NewTestScope("", nil)
	return NewOrchestrator(gateways, nil, nil, zap.New(core), scope, cfg), scope, logs
}

func TestPartitionBySkills_EndToEndGroups(t *testing.T) {
	inst := skillInstance()
	subs := PartitionBySkills(inst, SkillPartitionOptions{IsolateUntagged: true})
	require.Len(t, subs, 3)

	assert.Equal(t, []string{"m1", "m2"}, subs[0].MissionIDs())
	assert.Equal(t, []string{"rA"}, subs[0].ResourceIDs())
	assert.Equal(t, []string{"m3", "m4"}, subs[1].MissionIDs())
	assert.Equal(t, []string{"rB"}, subs[1].ResourceIDs())
	assert.Equal(t, []string{"m5", "m6"}, subs[2].MissionIDs())
	assert.Empty(t, subs[2].Resources)

	var missions, resources []string
	var budget int64
	for _, s := range subs {
		missions = append(missions, s.MissionIDs()...)
		resources = append(resources, s.ResourceIDs()...)
		budget += s.Configuration.Resolution.DurationMs
	}
	slices.Sort(missions)
	slices.Sort(resources)
	assert.Equal(t, inst.MissionIDs(), missions)
	assert.Equal(t, []string{"rA", "rB"}, resources)
	assert.InDelta(t, 1000, budget, float64(len(subs)))
}

func TestPartitionBySkills_KeepsLinkedResourcesTogether(t *testing.T) {
	inst := skillInstance()
	inst.Resources = append(inst.Resources, resource("rC", "C"))
	inst.Relations = []domain.Relation{{
		Type:              domain.RelationVehicleGroupDuration,
		LinkedResourceIDs: []string{"rA", "rC"},
		Lapse:             7200,
	}}

	subs := PartitionBySkills(inst, SkillPartitionOptions{IsolateUntagged: true})
	require.Len(t, subs, 3)
	assert.Equal(t, []string{"m1", "m2"}, subs[0].MissionIDs())
	assert.Equal(t, []string{"rA", "rC"}, subs[0].ResourceIDs())
	require.Len(t, subs[0].Relations, 1)
	assert.Equal(t, []string{"rB"}, subs[1].ResourceIDs())
	assert.Empty(t, subs[1].Relations)
	assert.Empty(t, subs[2].Resources)

	inst.Relations = nil
	subs = PartitionBySkills(inst, SkillPartitionOptions{IsolateUntagged: true})
	require.Len(t, subs, 4)
	assert.Equal(t, []string{"rA"}, subs[0].ResourceIDs())
	assert.Equal(t, []string{"rC"}, subs[3].ResourceIDs())
}

func TestPartitionBySkills_SkipsUntaggedUnlessIsolated(t *testing.T) {
	subs := PartitionBySkills(skillInstance(), SkillPartitionOptions{})
	assert.Len(t, subs, 1)
}

func TestOrchestrator_EndToEndSkills(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.IsolateUntagged = true
	gw := &stubGateway{}
	o, scope, _ := newTestOrchestrator(cfg, gw)

	sols, err := o.Run(context.Background(), "job", skillInstance(), nil)
	require.NoError(t, err)
	require.Len(t, sols, 1)
	sol := sols[0]

	assert.Equal(t, domain.StatusSolved, sol.Status)
	assert.Equal(t, 4, sol.AssignedCount())
	want := []domain.UnassignedMission{
		{MissionID: "m5", Reason: domain.ReasonNoCompatibleResource},
		{MissionID: "m6", Reason: domain.ReasonNoCompatibleResource},
	}
	assert.Empty(t, cmp.Diff(want, sol.Unassigned))
	assert.Equal(t, 2, gw.Calls())
	assert.EqualValues(t, 1, metrics.CounterValue(scope, "split.skill"))
}

func dichotomousInstance() *domain.ProblemInstance {
	inst := &domain.ProblemInstance{}
	for i := range 60 {
		m := mission(fmt.Sprintf("m%02d", i))
		m.TimeWindows = []domain.TimeWindow{{Start: 0, End: 36000}}
		inst.Missions = append(inst.Missions, m)
	}
	for i := range 4 {
		inst.Resources = append(inst.Resources, resource(fmt.Sprintf("r%d", i)))
	}
	return withLocations(inst)
}

func TestOrchestrator_DichotomousTriggeredOnce(t *testing.T) {
	gw := &stubGateway{solve: func(_ context.Context, inst *domain.ProblemInstance, call int) (*domain.Solution, error) {
		if call == 1 {
			// 48 of 60 visits unassigned, above the 70% trigger.
			return assignFirst(inst, 12), nil
		}
		return assignFirst(inst, inst.Visits()), nil
	}}
	o, scope, logs := newTestOrchestrator(DefaultOrchestratorConfig(), gw)

	sols, err := o.Run(context.Background(), "job", dichotomousInstance(), nil)
	require.NoError(t, err)

	assert.EqualValues(t, 1, metrics.CounterValue(scope, "dichotomous.runs"))
	assert.Equal(t, 1, logs.FilterMessage("dichotomous split").Len())
	assert.Equal(t, 3, gw.Calls())
	assert.Equal(t, 60, sols[0].AssignedCount())
	assert.Empty(t, sols[0].Unassigned)
}

func TestOrchestrator_DichotomousNotTriggeredBelowRatio(t *testing.T) {
	gw := &stubGateway{solve: func(_ context.Context, inst *domain.ProblemInstance, _ int) (*domain.Solution, error) {
		return assignFirst(inst, 30), nil
	}}
	o, scope, _ := newTestOrchestrator(DefaultOrchestratorConfig(), gw)

	sols, err := o.Run(context.Background(), "job", dichotomousInstance(), nil)
	require.NoError(t, err)

	assert.Zero(t, metrics.CounterValue(scope, "dichotomous.runs"))
	assert.Equal(t, 1, gw.Calls())
	assert.NoError(t, domain.CheckConsistency(60, sols[0]))
}

func TestOrchestrator_KillReturnsPartialSolution(t *testing.T) {
	started := make(chan struct{})
	gw := &stubGateway{solve: func(ctx context.Context, inst *domain.ProblemInstance, _ int) (*domain.Solution, error) {
		close(started)
		<-ctx.Done()
		sol := domain.UnassignedSolution(inst, domain.ReasonJobKilled)
		sol.Status = domain.StatusKilled
		return sol, nil
	}}
	o, scope, _ := newTestOrchestrator(DefaultOrchestratorConfig(), gw)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		sols []*domain.Solution
		err  error
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sols, err = o.Run(ctx, "job", skillInstance(), nil)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("solver never started")
	}
	cancel()
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, domain.StatusKilled, sols[0].Status)
	assert.Len(t, sols[0].Unassigned, 6)
	assert.EqualValues(t, 1, metrics.CounterValue(scope, "solve.killed"))
}

func TestOrchestrator_RepetitionKeepsFewestUnassigned(t *testing.T) {
	assigned := []int{1, 2, 2}
	gw := &stubGateway{solve: func(_ context.Context, inst *domain.ProblemInstance, call int) (*domain.Solution, error) {
		return assignFirst(inst, assigned[call-1]), nil
	}}
	o, scope, logs := newTestOrchestrator(DefaultOrchestratorConfig(), gw)

	inst := &domain.ProblemInstance{
		Missions:  []domain.Mission{mission("m1"), mission("m2"), mission("m3")},
		Resources: []domain.Resource{resource("r1")},
	}
	inst.Configuration.Resolution.Repetition = 3

	var messages []string
	sols, err := o.Run(context.Background(), "job", withLocations(inst), func(p ports.Progress) {
		messages = append(messages, p.Message)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, sols[0].ChosenRepetition)
	assert.Len(t, sols[0].Unassigned, 1)
	assert.EqualValues(t, 3, metrics.CounterValue(scope, "repetitions"))
	assert.Contains(t, messages, "repetition 3/3 - stub call 3")
	assert.Equal(t, 1, logs.FilterMessage("repetition chosen").Len())
}

func TestOrchestrator_RepetitionStopsWhenAllAssigned(t *testing.T) {
	gw := &stubGateway{}
	o, _, _ := newTestOrchestrator(DefaultOrchestratorConfig(), gw)

	inst := withLocations(&domain.ProblemInstance{
		Missions:  []domain.Mission{mission("m1")},
		Resources: []domain.Resource{resource("r1")},
	})
	inst.Configuration.Resolution.Repetition = 4

	sols, err := o.Run(context.Background(), "job", inst, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sols[0].ChosenRepetition)
	assert.Equal(t, 1, gw.Calls())
}

func TestOrchestrator_SeveralSolutions(t *testing.T) {
	gw := &stubGateway{}
	o, _, _ := newTestOrchestrator(DefaultOrchestratorConfig(), gw)

	inst := skillInstance()
	inst.Configuration.Resolution.SeveralSolutions = 2

	var mu sync.Mutex
	var messages []string
	sols, err := o.Run(context.Background(), "job", inst, func(p ports.Progress) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, p.Message)
	})
	require.NoError(t, err)
	require.Len(t, sols, 2)
	assert.True(t, slices.ContainsFunc(messages, func(m string) bool { return strings.HasPrefix(m, "solution 2/2 - ") }))
	assert.Zero(t, inst.Configuration.Resolution.Seed, "input instance must not be mutated")
}

func TestOrchestrator_FallsBackOnGatewayError(t *testing.T) {
	failing := &stubGateway{kind: ports.SolverVroom, solve: func(context.Context, *domain.ProblemInstance, int) (*domain.Solution, error) {
		return nil, &domain.GatewayError{Solver: "vroom", Message: "unreachable"}
	}}
	fallback := &stubGateway{kind: ports.SolverLocal}
	o, _, logs := newTestOrchestrator(DefaultOrchestratorConfig(), failing, fallback)

	sols, err := o.Run(context.Background(), "job", skillInstance(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, sols[0].Solvers)
	assert.Equal(t, 1, failing.Calls())
	assert.Equal(t, 1, logs.FilterMessage("solver failed, falling back").Len())
}

func TestOrchestrator_NoApplicableSolver(t *testing.T) {
	gw := &stubGateway{reasons: []string{"schedules are not supported"}}
	o, _, _ := newTestOrchestrator(DefaultOrchestratorConfig(), gw)

	_, err := o.Gateway(skillInstance())
	assert.ErrorIs(t, err, domain.ErrNoApplicableSolver)

	_, err = o.Run(context.Background(), "job", skillInstance(), nil)
	assert.ErrorIs(t, err, domain.ErrNoApplicableSolver)
	assert.Zero(t, gw.Calls())
}

func TestOrchestrator_NoApplicableSolverInOneGroup(t *testing.T) {
	gw := &stubGateway{reasons: []string{"schedules are not supported"}}
	cfg := DefaultOrchestratorConfig()
	cfg.IsolateUntagged = true
	o, _, _ := newTestOrchestrator(cfg, gw)

	sols, err := o.Run(context.Background(), "job", skillInstance(), nil)
	require.NoError(t, err)
	require.Len(t, sols[0].Unassigned, 6)
	assert.Contains(t, sols[0].Unassigned[0].Reason, "no applicable solver")
	assert.Equal(t, domain.ReasonNoCompatibleResource, sols[0].Unassigned[5].Reason)
}

func TestOrchestrator_RejectsUnknownPartition(t *testing.T) {
	o, _, _ := newTestOrchestrator(DefaultOrchestratorConfig(), &stubGateway{})
	inst := skillInstance()
	inst.Configuration.Preprocessing.Partitions = []domain.Partition{{Method: "spectral"}}

	_, err := o.Run(context.Background(), "job", inst, nil)
	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.ErrorIs(t, err, domain.ErrUnknownPartitionMethod)
}

func TestOrchestrator_InconsistentSolutionIsFatal(t *testing.T) {
	gw := &stubGateway{solve: func(_ context.Context, inst *domain.ProblemInstance, _ int) (*domain.Solution, error) {
		sol := assignFirst(inst, inst.Visits())
		sol.AddUnassigned("m1", "duplicated")
		return sol, nil
	}}
	o, _, _ := newTestOrchestrator(DefaultOrchestratorConfig(), gw)

	inst := withLocations(&domain.ProblemInstance{
		Missions:  []domain.Mission{mission("m1")},
		Resources: []domain.Resource{resource("r1")},
	})
	_, err := o.Run(context.Background(), "job", inst, nil)
	assert.ErrorIs(t, err, domain.ErrInconsistentSolution)
}

func TestOrchestrator_EmptyResultFallsBack(t *testing.T) {
	empty := &stubGateway{kind: ports.SolverVroom, solve: func(_ context.Context, inst *domain.ProblemInstance, _ int) (*domain.Solution, error) {
		return assignFirst(inst, 0), nil
	}}
	fallback := &stubGateway{kind: ports.SolverLocal}
	o, _, logs := newTestOrchestrator(DefaultOrchestratorConfig(), empty, fallback)

	inst := withLocations(&domain.ProblemInstance{
		Missions:  []domain.Mission{mission("m1"), mission("m2")},
		Resources: []domain.Resource{resource("r1")},
	})
	sols, err := o.Run(context.Background(), "job", inst, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, sols[0].Solvers)
	assert.Equal(t, 2, sols[0].AssignedCount())
	assert.Equal(t, 1, logs.FilterMessage("solver failed, falling back").Len())

	o, _, _ = newTestOrchestrator(DefaultOrchestratorConfig(), empty)
	_, err = o.Run(context.Background(), "job", inst, nil)
	var ge *domain.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "no solution provided", ge.Message)
}

func TestOrchestrator_EmptyResultAllowed(t *testing.T) {
	empty := &stubGateway{solve: func(_ context.Context, inst *domain.ProblemInstance, _ int) (*domain.Solution, error) {
		return assignFirst(inst, 0), nil
	}}
	o, _, _ := newTestOrchestrator(DefaultOrchestratorConfig(), empty)

	inst := withLocations(&domain.ProblemInstance{
		Missions:  []domain.Mission{mission("m1")},
		Resources: []domain.Resource{resource("r1")},
	})
	inst.Configuration.Resolution.AllowEmptyResult = true
	sols, err := o.Run(context.Background(), "job", inst, nil)
	require.NoError(t, err)
	assert.Zero(t, sols[0].AssignedCount())
	assert.Len(t, sols[0].Unassigned, 1)
}

func TestOrchestrator_SplitSolveCoversEveryMissionOnce(t *testing.T) {
	// Every visit goes to the first resource so each half uses one resource.
	gw := &stubGateway{solve: func(_ context.Context, inst *domain.ProblemInstance, _ int) (*domain.Solution, error) {
		sol := assignFirst(inst, 0)
		sol.Unassigned = nil
		for _, m := range inst.Missions {
			sol.Routes[0].Stops = append(sol.Routes[0].Stops, domain.Stop{MissionID: m.ID, LocationID: m.LocationID})
		}
		return sol, nil
	}}
	cfg := DefaultOrchestratorConfig()
	cfg.MaxSplitSize = 10
	o, scope, _ := newTestOrchestrator(cfg, gw)

	inst := &domain.ProblemInstance{}
	for i := range 30 {
		inst.Missions = append(inst.Missions, mission(fmt.Sprintf("m%02d", i)))
	}
	for i := range 3 {
		inst.Resources = append(inst.Resources, resource(fmt.Sprintf("r%d", i)))
	}
	inst.Configuration.Resolution.DurationMs = 3000

	var mu sync.Mutex
	var messages []string
	sols, err := o.Run(context.Background(), "job", withLocations(inst), func(p ports.Progress) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, p.Message)
	})
	require.NoError(t, err)
	sol := sols[0]

	assert.Positive(t, metrics.CounterValue(scope, "split.solve"))
	require.NoError(t, domain.CheckConsistency(30, sol))
	seen := map[string]int{}
	routed := map[string]int{}
	for _, r := range sol.Routes {
		if len(r.Stops) > 0 {
			routed[r.ResourceID]++
		}
		for _, st := range r.Stops {
			seen[st.MissionID]++
		}
	}
	for _, u := range sol.Unassigned {
		seen[u.MissionID]++
	}
	for _, m := range inst.Missions {
		assert.Equal(t, 1, seen[m.ID], m.ID)
	}
	for id, n := range routed {
		assert.Equal(t, 1, n, "resource %s routed by both halves", id)
	}
	assert.Empty(t, sol.Unassigned)
	assert.True(t, slices.ContainsFunc(messages, func(m string) bool { return strings.HasPrefix(m, "split solve 1/2 - ") }))
	assert.True(t, slices.ContainsFunc(messages, func(m string) bool { return strings.HasPrefix(m, "split solve 2/2 - ") }))
}

func TestOrchestrator_NestedProgressPrefixes(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.IsolateUntagged = true
	gw := &stubGateway{}
	o, _, _ := newTestOrchestrator(cfg, gw)

	inst := skillInstance()
	inst.Configuration.Resolution.SeveralSolutions = 2
	inst.Configuration.Resolution.Repetition = 2

	var mu sync.Mutex
	var messages []string
	_, err := o.Run(context.Background(), "job", inst, func(p ports.Progress) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, p.Message)
	})
	require.NoError(t, err)

	for _, prefix := range []string{
		"solution 1/2 - repetition 1/2 - split independent process 1/3 - stub call ",
		"solution 1/2 - repetition 2/2 - split independent process 2/3 - stub call ",
		"solution 2/2 - repetition 2/2 - split independent process 1/3 - stub call ",
	} {
		assert.True(t, slices.ContainsFunc(messages, func(m string) bool { return strings.HasPrefix(m, prefix) }), prefix)
	}
	// Untagged missions have no resource, so every repetition runs.
	assert.Equal(t, 8, gw.Calls())
}

func TestOrchestrator_InconsistencyToleratedOnlyForDemoAlone(t *testing.T) {
	inconsistent := func(solvers ...string) *stubGateway {
		return &stubGateway{kind: ports.SolverDemo, solve: func(_ context.Context, inst *domain.ProblemInstance, _ int) (*domain.Solution, error) {
			sol := assignFirst(inst, inst.Visits())
			sol.AddUnassigned("m1", "duplicated")
			sol.Solvers = solvers
			return sol, nil
		}}
	}
	inst := func() *domain.ProblemInstance {
		return withLocations(&domain.ProblemInstance{
			Missions:  []domain.Mission{mission("m1")},
			Resources: []domain.Resource{resource("r1")},
		})
	}

	o, _, logs := newTestOrchestrator(DefaultOrchestratorConfig(), inconsistent("demo"))
	_, err := o.Run(context.Background(), "job", inst(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("inconsistent solution ignored for demo solver").Len())

	o, _, _ = newTestOrchestrator(DefaultOrchestratorConfig(), inconsistent("demo", "local"))
	_, err = o.Run(context.Background(), "job", inst(), nil)
	assert.ErrorIs(t, err, domain.ErrInconsistentSolution)
}
