package domain

import "testing"

func TestRouteLoadCapacity(t *testing.T) {
	res := &Resource{ID: "r1", Capacities: []Capacity{{UnitID: "kg", Limit: 10}}}
	load := NewRouteLoad(res)

	m1 := Mission{ID: "m1", Quantities: []Quantity{{UnitID: "kg", Value: 6}}}
	m2 := Mission{ID: "m2", Quantities: []Quantity{{UnitID: "kg", Value: 4}}}
	m3 := Mission{ID: "m3", Quantities: []Quantity{{UnitID: "kg", Value: 1}}}

	if rejected := load.LoadMultiple([]Mission{m1, m2}); len(rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", rejected)
	}
	if load.Fits(m3) {
		t.Fatalf("m3 should not fit a full route")
	}
	if err := load.Load(m3); err == nil {
		t.Fatalf("expected capacity error")
	}

	load.Unload(m2)
	if !load.Fits(m3) {
		t.Fatalf("m3 should fit after unloading m2")
	}

	load.Clear()
	if !load.Fits(Mission{ID: "m4", Quantities: []Quantity{{UnitID: "kg", Value: 10}}}) {
		t.Fatalf("cleared route should accept a full load")
	}
}

func TestRouteLoadMultipleKeepsWhatFits(t *testing.T) {
	res := &Resource{ID: "r1", Capacities: []Capacity{{UnitID: "kg", Limit: 10}}}
	load := NewRouteLoad(res)

	heavy := Mission{ID: "heavy", Quantities: []Quantity{{UnitID: "kg", Value: 7}}}
	big := Mission{ID: "big", Quantities: []Quantity{{UnitID: "kg", Value: 5}}}
	small := Mission{ID: "small", Quantities: []Quantity{{UnitID: "kg", Value: 3}}}

	rejected := load.LoadMultiple([]Mission{heavy, big, small})
	if len(rejected) != 1 || rejected[0].ID != "big" {
		t.Fatalf("expected only big to be rejected, got %v", rejected)
	}
	if load.Fits(Mission{ID: "one", Quantities: []Quantity{{UnitID: "kg", Value: 1}}}) {
		t.Fatalf("route should be full after heavy and small")
	}
}
