package domain

import "testing"

func sampleInstance() *ProblemInstance {
	return &ProblemInstance{
		Locations: []Location{{ID: "depot"}, {ID: "a", MatrixIndex: 1}, {ID: "b", MatrixIndex: 2}},
		Missions: []Mission{
			{ID: "m1", LocationID: "a", Skills: []string{"frozen"}, VisitsNumber: 2, MinimumLapse: IntPtr(1)},
			{ID: "m2", LocationID: "b"},
		},
		Resources: []Resource{
			{ID: "r1", StartLocationID: "depot", Skills: [][]string{{"frozen"}}},
			{ID: "r2", StartLocationID: "depot"},
		},
		Matrices:  []Matrix{{ID: "m", Time: [][]float64{{0, 1, 2}, {1, 0, 3}, {2, 3, 0}}}},
		Relations: []Relation{{Type: RelationSameRoute, LinkedMissionIDs: []string{"m1", "m2"}}},
		Configuration: Configuration{
			Resolution: Resolution{DurationMs: 1000},
			Schedule:   &Schedule{StartDay: 0, EndDay: 6},
		},
	}
}

func TestProblemInstanceCloneIsIndependent(t *testing.T) {
	inst := sampleInstance()
	c := inst.Clone()

	c.Missions[0].Skills[0] = "dry"
	*c.Missions[0].MinimumLapse = 5
	c.Resources[0].Skills[0][0] = "dry"
	c.Matrices[0].Time[0][1] = 99
	c.Configuration.Schedule.EndDay = 2

	if inst.Missions[0].Skills[0] != "frozen" {
		t.Fatalf("mission skills aliased")
	}
	if *inst.Missions[0].MinimumLapse != 1 {
		t.Fatalf("lapse aliased")
	}
	if inst.Resources[0].Skills[0][0] != "frozen" {
		t.Fatalf("resource skills aliased")
	}
	if inst.Matrices[0].Time[0][1] != 1 {
		t.Fatalf("matrix aliased")
	}
	if inst.Configuration.Schedule.EndDay != 6 {
		t.Fatalf("schedule aliased")
	}
}

func TestProblemInstancePartial(t *testing.T) {
	inst := sampleInstance()
	p := inst.Partial([]string{"m1"}, []string{"r1"})

	if len(p.Missions) != 1 || p.Missions[0].ID != "m1" {
		t.Fatalf("missions = %+v", p.Missions)
	}
	if len(p.Resources) != 1 || p.Resources[0].ID != "r1" {
		t.Fatalf("resources = %+v", p.Resources)
	}
	if len(p.Locations) != 2 {
		t.Fatalf("locations = %+v, want depot and a", p.Locations)
	}
	if len(p.Relations) != 0 {
		t.Fatalf("relation with a missing member should be dropped")
	}
	if p.Visits() != 2 {
		t.Fatalf("visits = %d, want 2", p.Visits())
	}
}

func TestArenaHydrateRestoresMovedResourceLocations(t *testing.T) {
	inst := sampleInstance()
	arena := NewArena(inst)

	p := inst.Partial([]string{"m2"}, nil)
	p.Resources = append(p.Resources, inst.Resources[0].Clone())
	if err := arena.Hydrate(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, l := range p.Locations {
		if l.ID == "depot" {
			found = true
		}
	}
	if !found {
		t.Fatalf("depot location was not restored: %+v", p.Locations)
	}

	if a, b := arena.NextID("r"), arena.NextID("r"); a == b {
		t.Fatalf("NextID returned duplicates %q", a)
	}
}

func TestConfigurationValidateRejectsUnknownMethod(t *testing.T) {
	cfg := Configuration{Preprocessing: Preprocessing{Partitions: []Partition{{Method: "voronoi"}}}}

	err := cfg.Validate(nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	var ce *ConfigError
	if !errorsAs(err, &ce) || ce.Field != "partitions[0].method" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMissionLapseAllowsUsesClosestDay(t *testing.T) {
	m := Mission{ID: "m", MinimumLapse: IntPtr(2), MaximumLapse: IntPtr(3)}
	cases := []struct {
		used []int
		day  int
		want bool
	}{
		{nil, 0, true},
		{[]int{0}, 0, false},
		{[]int{0}, 2, true},
		{[]int{5}, 3, true},
		{[]int{5}, 4, false},
		{[]int{6}, 1, false},
		{[]int{0, 6}, 5, false},
		{[]int{1, 7}, 4, true},
	}
	for _, c := range cases {
		if got := m.LapseAllows(c.used, c.day); got != c.want {
			t.Errorf("LapseAllows(%v, %d) = %v, want %v", c.used, c.day, got, c.want)
		}
	}

	free := Mission{ID: "f"}
	if free.LapseAllows([]int{3}, 3) || !free.LapseAllows([]int{3}, 40) {
		t.Errorf("unbounded lapse must only forbid a shared day")
	}
}
