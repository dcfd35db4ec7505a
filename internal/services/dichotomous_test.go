package services

import (
	"context"
	"testing"

	"route-decomposition-service/internal/clustering"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/platform/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDichotomousCandidate(t *testing.T) {
	d := NewDichotomousSplitter(DefaultDichotomousConfig(), clustering.DefaultOptions(), nil, nil)

	inst := dichotomousInstance()
	assert.True(t, d.Candidate(inst))

	small := inst.Partial(inst.MissionIDs()[:40], inst.ResourceIDs())
	assert.False(t, d.Candidate(small), "too few missions")

	few := inst.Partial(inst.MissionIDs(), inst.ResourceIDs()[:3])
	assert.False(t, d.Candidate(few), "too few resources")

	late := inst.Clone()
	late.Missions[0].LateMultiplier = 1
	assert.False(t, d.Candidate(late), "late multipliers")

	open := inst.Clone()
	for i := range open.Missions {
		open.Missions[i].TimeWindows = nil
	}
	assert.False(t, d.Candidate(open), "no time windows")
}

func TestDichotomousConfigure(t *testing.T) {
	d := NewDichotomousSplitter(DichotomousConfig{}, clustering.DefaultOptions(), nil, nil)

	inst := dichotomousInstance()
	inst.Configuration.Resolution.DurationMs = 450000
	d.configure(inst)

	res := inst.Configuration.Resolution
	assert.Equal(t, int64(200000), res.DurationMs)
	assert.Equal(t, int64(90000), res.MinimumDurationMs)
	assert.Equal(t, 4, res.ResourceLimit)
	assert.True(t, res.AllowEmptyResult)
	assert.Equal(t, []string{"parallel_cheapest_insertion"}, inst.Configuration.Preprocessing.FirstSolutionStrategy)

	fresh := dichotomousInstance()
	d.configure(fresh)
	assert.Equal(t, int64(120000), fresh.Configuration.Resolution.DurationMs)
}

func TestDichotomousSplitResources(t *testing.T) {
	d := NewDichotomousSplitter(DefaultDichotomousConfig(), clustering.DefaultOptions(), nil, nil)
	inst := &domain.ProblemInstance{
		Missions: []domain.Mission{mission("m1", "A"), mission("m2", "B"), mission("m3")},
		Resources: []domain.Resource{
			resource("rB", "B"),
			resource("rA", "A"),
			resource("rAB", "A", "B"),
			resource("free"),
			resource("free2"),
		},
	}
	halves := [][]string{{"m1", "m3"}, {"m2"}}

	out := d.splitResources(inst, halves)
	// rAB covers both halves so it balances like an untagged resource.
	assert.Equal(t, []string{"rA", "rAB", "free2"}, out[0])
	assert.Equal(t, []string{"rB", "free"}, out[1])
}

func TestDichotomousEndStageReinsertsUnassigned(t *testing.T) {
	gw := &stubGateway{solve: func(_ context.Context, inst *domain.ProblemInstance, call int) (*domain.Solution, error) {
		switch call {
		case 1:
			return assignFirst(inst, 12), nil
		case 2, 3:
			return assignFirst(inst, inst.Visits()-2), nil
		}
		return assignFirst(inst, inst.Visits()), nil
	}}
	o, scope, _ := newTestOrchestrator(DefaultOrchestratorConfig(), gw)

	sols, err := o.Run(context.Background(), "job", dichotomousInstance(), nil)
	require.NoError(t, err)

	assert.Equal(t, 4, gw.Calls())
	assert.Empty(t, sols[0].Unassigned)
	assert.Equal(t, 60, sols[0].AssignedCount())
	assert.EqualValues(t, 1, metrics.CounterValue(scope, "dichotomous.runs"))
}
