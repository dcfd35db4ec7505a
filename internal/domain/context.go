package domain

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Level is the recursion bookkeeping of one decomposition kind.
type Level struct {
	Level       int `json:"level"`
	Denominator int `json:"denominator"`
	Side        int `json:"side"`
}

// ResolutionContext pairs an instance with the recursion state that produced it.
type ResolutionContext struct {
	Instance *ProblemInstance
	Solver   string
	JobID    string
	Arena    *Arena
	Split    Level
	Dicho    Level
	Depth    int
}

func NewResolutionContext(inst *ProblemInstance, jobID, solver string, arena *Arena) *ResolutionContext {
	return &ResolutionContext{
		Instance: inst,
		Solver:   solver,
		JobID:    jobID,
		Arena:    arena,
		Split:    Level{Denominator: 1},
		Dicho:    Level{Denominator: 1},
	}
}

// With returns a context for inst keeping the current levels.
func (c *ResolutionContext) With(inst *ProblemInstance) *ResolutionContext {
	out := *c
	out.Instance = inst
	out.Depth++
	return &out
}

// SplitChild is the context of one side of a split into denominator parts.
func (c *ResolutionContext) SplitChild(inst *ProblemInstance, side, denominator int) *ResolutionContext {
	out := c.With(inst)
	out.Split = Level{Level: c.Split.Level + 1, Denominator: c.Split.Denominator * denominator, Side: side}
	return out
}

// DichoChild is the context of one half of a dichotomous split.
func (c *ResolutionContext) DichoChild(inst *ProblemInstance, side int) *ResolutionContext {
	out := c.With(inst)
	out.Dicho = Level{Level: c.Dicho.Level + 1, Denominator: c.Dicho.Denominator * 2, Side: side}
	return out
}

// Arena holds the reference data of one submission. Partial instances drop
// locations they do not reference; the arena restores them when resources
// move between sub-instances. It also hands out identifiers that are unique
// within the submission.
type Arena struct {
	mu        sync.RWMutex
	id        string
	locations map[string]Location
	units     map[string]Unit
	seq       int
}

func NewArena(inst *ProblemInstance) *Arena {
	a := &Arena{
		id:        uuid.NewString(),
		locations: map[string]Location{},
		units:     map[string]Unit{},
	}
	a.Register(inst)
	return a
}

func (a *Arena) ID() string { return a.id }

// Register records the locations and units of inst.
func (a *Arena) Register(inst *ProblemInstance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range inst.Locations {
		a.locations[l.ID] = l
	}
	for _, u := range inst.Units {
		a.units[u.ID] = u
	}
}

func (a *Arena) Location(id string) (Location, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	l, ok := a.locations[id]
	return l, ok
}

// Hydrate adds to inst every location and unit it references but lacks.
func (a *Arena) Hydrate(inst *ProblemInstance) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	have := make(map[string]struct{}, len(inst.Locations))
	for _, l := range inst.Locations {
		have[l.ID] = struct{}{}
	}
	need := func(id string) error {
		if id == "" {
			return nil
		}
		if _, ok := have[id]; ok {
			return nil
		}
		l, ok := a.locations[id]
		if !ok {
			return fmt.Errorf("hydrate instance: unknown location %q", id)
		}
		inst.Locations = append(inst.Locations, l)
		have[id] = struct{}{}
		return nil
	}
	for _, m := range inst.Missions {
		if err := need(m.LocationID); err != nil {
			return err
		}
	}
	for _, r := range inst.Resources {
		if err := need(r.StartLocationID); err != nil {
			return err
		}
		if err := need(r.EndLocationID); err != nil {
			return err
		}
	}

	units := make(map[string]struct{}, len(inst.Units))
	for _, u := range inst.Units {
		units[u.ID] = struct{}{}
	}
	for _, u := range a.units {
		if _, ok := units[u.ID]; !ok {
			inst.Units = append(inst.Units, u)
		}
	}
	return nil
}

// NextID returns prefix followed by a counter unique within the arena.
func (a *Arena) NextID(prefix string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return fmt.Sprintf("%s_%d", prefix, a.seq)
}

// Close releases the registry at the end of a submission.
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.locations = nil
	a.units = nil
}
