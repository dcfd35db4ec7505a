package feasibility

import (
	"testing"

	"route-decomposition-service/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestDetectUnfeasible(t *testing.T) {
	inst := &domain.ProblemInstance{
		Missions: []domain.Mission{
			{ID: "ok", Duration: 600},
			{ID: "frozen", Skills: []string{"frozen"}},
			{ID: "long", Duration: 10 * 3600},
			{ID: "heavy", Quantities: []domain.Quantity{{UnitID: "kg", Value: 900}}},
			{ID: "both", Duration: 10 * 3600, Quantities: []domain.Quantity{{UnitID: "kg", Value: 900}}},
			{ID: "night", TimeWindows: []domain.TimeWindow{{Start: 20 * 3600, End: 22 * 3600}}},
		},
		Resources: []domain.Resource{{
			ID:         "van",
			TimeWindow: &domain.TimeWindow{Start: 8 * 3600, End: 16 * 3600},
			Capacities: []domain.Capacity{{UnitID: "kg", Limit: 500}},
		}},
	}

	got := NewChecker().DetectUnfeasible(inst)

	assert.Equal(t, map[string]string{
		"frozen": ReasonNoSkilledResource,
		"long":   ReasonTooLong,
		"heavy":  ReasonCapacity,
		"both":   ReasonTooLong + "; " + ReasonCapacity,
		"night":  ReasonNoWindowOverlap,
	}, got)
}

func TestDetectUnfeasible_NoResources(t *testing.T) {
	inst := &domain.ProblemInstance{Missions: []domain.Mission{{ID: "m1"}}}
	assert.Empty(t, NewChecker().DetectUnfeasible(inst))
}
