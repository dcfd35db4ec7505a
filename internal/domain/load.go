package domain

import "fmt"

// RouteLoad tracks the quantities carried by one resource on one route.
type RouteLoad struct {
	Resource *Resource
	used     map[string]float64
}

func NewRouteLoad(r *Resource) *RouteLoad {
	return &RouteLoad{Resource: r, used: map[string]float64{}}
}

// Fits reports whether m can be added without exceeding any capacity.
func (l *RouteLoad) Fits(m Mission) bool {
	for _, c := range l.Resource.Capacities {
		if l.used[c.UnitID]+m.Quantity(c.UnitID) > c.Limit {
			return false
		}
	}
	return true
}

// Load adds a mission's quantities to the route.
func (l *RouteLoad) Load(m Mission) error {
	if !l.Fits(m) {
		return fmt.Errorf("load route: resource %s is at full capacity for mission %s", l.Resource.ID, m.ID)
	}
	for _, q := range m.Quantities {
		l.used[q.UnitID] += q.Value
	}
	return nil
}

// LoadMultiple adds, in order, every mission that still fits and returns
// the ones left out.
func (l *RouteLoad) LoadMultiple(ms []Mission) []Mission {
	var rejected []Mission
	for _, m := range ms {
		if err := l.Load(m); err != nil {
			rejected = append(rejected, m)
		}
	}
	return rejected
}

func (l *RouteLoad) Unload(m Mission) {
	for _, q := range m.Quantities {
		l.used[q.UnitID] -= q.Value
	}
}

// Clear forgets every loaded quantity.
func (l *RouteLoad) Clear() {
	l.used = map[string]float64{}
}
