package domain

import (
	"fmt"
	"slices"
)

// TimeWindow is expressed in seconds from the start of a day.
// DayIndex restricts the window to one weekday (0 = monday) when set.
type TimeWindow struct {
	Start    int  `json:"start"`
	End      int  `json:"end"`
	DayIndex *int `json:"day_index,omitempty"`
}

func (tw TimeWindow) Length() int {
	if tw.End <= tw.Start {
		return 0
	}
	return tw.End - tw.Start
}

type Quantity struct {
	UnitID string  `json:"unit_id"`
	Value  float64 `json:"value"`
}

type Capacity struct {
	UnitID string  `json:"unit_id"`
	Limit  float64 `json:"limit"`
}

// Mission is a location-visit requirement.
// Priority ranges from 0 (most important) to 8, VisitsNumber defaults to 1.
type Mission struct {
	ID                string       `json:"id"`
	LocationID        string       `json:"location_id"`
	Duration          int          `json:"duration"`
	SetupDuration     int          `json:"setup_duration,omitempty"`
	Skills            []string     `json:"skills,omitempty"`
	Priority          int          `json:"priority"`
	Quantities        []Quantity   `json:"quantities,omitempty"`
	VisitsNumber      int          `json:"visits_number"`
	MinimumLapse      *int         `json:"minimum_lapse,omitempty"`
	MaximumLapse      *int         `json:"maximum_lapse,omitempty"`
	TimeWindows       []TimeWindow `json:"time_windows,omitempty"`
	LateMultiplier    float64      `json:"late_multiplier,omitempty"`
	ExclusionCost     float64      `json:"exclusion_cost,omitempty"`
	PinnedResourceIDs []string     `json:"pinned_resource_ids,omitempty"`
}

// Visits returns the number of visits the mission requires, at least one.
func (m Mission) Visits() int {
	if m.VisitsNumber < 1 {
		return 1
	}
	return m.VisitsNumber
}

func (m Mission) Quantity(unitID string) float64 {
	var total float64
	for _, q := range m.Quantities {
		if q.UnitID == unitID {
			total += q.Value
		}
	}
	return total
}

// LapseAllows reports whether a visit on day keeps the mission's lapse
// bounds with the closest of the used days. Two visits never share a day.
func (m Mission) LapseAllows(used []int, day int) bool {
	if len(used) == 0 {
		return true
	}
	dist := -1
	for _, u := range used {
		d := u - day
		if d < 0 {
			d = -d
		}
		if dist < 0 || d < dist {
			dist = d
		}
	}
	lo := 1
	if m.MinimumLapse != nil && *m.MinimumLapse > lo {
		lo = *m.MinimumLapse
	}
	if dist < lo {
		return false
	}
	return m.MaximumLapse == nil || dist <= *m.MaximumLapse
}

// EarliestStart returns the earliest time at or after t the mission can
// start on the given schedule day. Windows ending before they start are open.
func (m Mission) EarliestStart(day, t int) (int, bool) {
	if len(m.TimeWindows) == 0 {
		return t, true
	}
	best, found := 0, false
	for _, tw := range m.TimeWindows {
		if tw.DayIndex != nil && day >= 0 && *tw.DayIndex != day%7 {
			continue
		}
		start := max(t, tw.Start)
		if tw.End > tw.Start && start > tw.End {
			continue
		}
		if !found || start < best {
			best, found = start, true
		}
	}
	return best, found
}

// Resource is a vehicle or worker. Skills holds alternative skill sets: the
// resource can serve a mission when one alternative covers the mission skills.
type Resource struct {
	ID                  string       `json:"id"`
	OriginalID          string       `json:"original_id,omitempty"`
	Skills              [][]string   `json:"skills,omitempty"`
	Capacities          []Capacity   `json:"capacities,omitempty"`
	TimeWindow          *TimeWindow  `json:"time_window,omitempty"`
	SequenceTimeWindows []TimeWindow `json:"sequence_time_windows,omitempty"`
	StartLocationID     string       `json:"start_location_id,omitempty"`
	EndLocationID       string       `json:"end_location_id,omitempty"`
	MatrixID            string       `json:"matrix_id,omitempty"`
	CostFixed           float64      `json:"cost_fixed,omitempty"`
	CostTimeMultiplier  float64      `json:"cost_time_multiplier,omitempty"`
	CostLateMultiplier  float64      `json:"cost_late_multiplier,omitempty"`
	Duration            int          `json:"duration,omitempty"`
	UnavailableDays     []int        `json:"unavailable_days,omitempty"`
}

// BaseID is the identifier of the resource before any per-day expansion.
func (r Resource) BaseID() string {
	if r.OriginalID != "" {
		return r.OriginalID
	}
	return r.ID
}

// WorkTime is the time the resource can spend on a single route.
func (r Resource) WorkTime() int {
	if r.Duration > 0 {
		return r.Duration
	}
	if r.TimeWindow != nil && r.TimeWindow.Length() > 0 {
		return r.TimeWindow.Length()
	}
	if len(r.SequenceTimeWindows) > 0 {
		return r.SequenceTimeWindows[0].Length()
	}
	return 24 * 3600
}

// Windows returns the time windows the resource works in, one per weekday
// restriction. A resource without any window works all day.
func (r Resource) Windows() []TimeWindow {
	if len(r.SequenceTimeWindows) > 0 {
		return r.SequenceTimeWindows
	}
	if r.TimeWindow != nil {
		return []TimeWindow{*r.TimeWindow}
	}
	return []TimeWindow{{Start: 0, End: 24 * 3600}}
}

// WindowOn returns the window the resource works in on the given schedule day.
func (r Resource) WindowOn(day int) (TimeWindow, bool) {
	if slices.Contains(r.UnavailableDays, day) {
		return TimeWindow{}, false
	}
	for _, tw := range r.Windows() {
		if tw.DayIndex == nil || *tw.DayIndex == day%7 {
			return tw, true
		}
	}
	return TimeWindow{}, false
}

type RelationType string

const (
	RelationShipment     RelationType = "shipment"
	RelationSameRoute    RelationType = "same_route"
	RelationOrder        RelationType = "order"
	RelationVehicleTrips RelationType = "vehicle_trips"
	RelationMinimumLapse RelationType = "minimum_day_lapse"
	// RelationVehicleGroupDuration caps the summed route duration of the
	// linked resources at Lapse seconds.
	RelationVehicleGroupDuration RelationType = "vehicle_group_duration"
)

type Relation struct {
	ID                string       `json:"id,omitempty"`
	Type              RelationType `json:"type"`
	LinkedMissionIDs  []string     `json:"linked_ids,omitempty"`
	LinkedResourceIDs []string     `json:"linked_resource_ids,omitempty"`
	Lapse             int          `json:"lapse,omitempty"`
}

// Matrix holds square travel time (seconds) and distance (meters) tables
// indexed by Location.MatrixIndex.
type Matrix struct {
	ID       string      `json:"id"`
	Time     [][]float64 `json:"time"`
	Distance [][]float64 `json:"distance,omitempty"`
}

// InitialRoute seeds a resource with missions before solving.
type InitialRoute struct {
	ResourceID string   `json:"resource_id"`
	Day        int      `json:"day"`
	MissionIDs []string `json:"mission_ids"`
}

type ProblemInstance struct {
	Name          string         `json:"name,omitempty"`
	Locations     []Location     `json:"locations"`
	Units         []Unit         `json:"units,omitempty"`
	Missions      []Mission      `json:"missions"`
	Resources     []Resource     `json:"resources"`
	Matrices      []Matrix       `json:"matrices,omitempty"`
	Relations     []Relation     `json:"relations,omitempty"`
	InitialRoutes []InitialRoute `json:"routes,omitempty"`
	Configuration Configuration  `json:"configuration"`
}

// CheckIdentifiers rejects missing or duplicated mission and resource ids.
func (p *ProblemInstance) CheckIdentifiers() error {
	seen := map[string]bool{}
	for i, m := range p.Missions {
		if m.ID == "" {
			return fmt.Errorf("mission at index %d: id cannot be empty", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("mission %s: duplicated id", m.ID)
		}
		seen[m.ID] = true
	}
	clear(seen)
	for i, r := range p.Resources {
		if r.ID == "" {
			return fmt.Errorf("resource at index %d: id cannot be empty", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("resource %s: duplicated id", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// Visits is the total number of visits the instance requires.
func (p *ProblemInstance) Visits() int {
	total := 0
	for _, m := range p.Missions {
		total += m.Visits()
	}
	return total
}

func (p *ProblemInstance) Mission(id string) (*Mission, bool) {
	for i := range p.Missions {
		if p.Missions[i].ID == id {
			return &p.Missions[i], true
		}
	}
	return nil, false
}

func (p *ProblemInstance) Resource(id string) (*Resource, bool) {
	for i := range p.Resources {
		if p.Resources[i].ID == id {
			return &p.Resources[i], true
		}
	}
	return nil, false
}

func (p *ProblemInstance) LocationIndex() map[string]Location {
	out := make(map[string]Location, len(p.Locations))
	for _, l := range p.Locations {
		out[l.ID] = l
	}
	return out
}

func (p *ProblemInstance) Matrix(id string) (*Matrix, bool) {
	for i := range p.Matrices {
		if id == "" || p.Matrices[i].ID == id {
			return &p.Matrices[i], true
		}
	}
	return nil, false
}

// HasTripRelation reports whether a relation links several resources' trips.
func (p *ProblemInstance) HasTripRelation() bool {
	for _, r := range p.Relations {
		if r.Type == RelationVehicleTrips {
			return true
		}
	}
	return false
}

func (p *ProblemInstance) HasRelation(t RelationType) bool {
	for _, r := range p.Relations {
		if r.Type == t {
			return true
		}
	}
	return false
}

// ScaleBudget multiplies the resolution durations by num/den, rounding down.
func (p *ProblemInstance) ScaleBudget(num, den float64) {
	if den <= 0 {
		return
	}
	res := &p.Configuration.Resolution
	res.DurationMs = int64(float64(res.DurationMs) * num / den)
	res.MinimumDurationMs = int64(float64(res.MinimumDurationMs) * num / den)
}

// Clone returns a deep copy sharing no mutable state with p.
func (p *ProblemInstance) Clone() *ProblemInstance {
	out := &ProblemInstance{
		Name:          p.Name,
		Locations:     slices.Clone(p.Locations),
		Units:         slices.Clone(p.Units),
		Missions:      make([]Mission, len(p.Missions)),
		Resources:     make([]Resource, len(p.Resources)),
		Matrices:      make([]Matrix, len(p.Matrices)),
		Relations:     make([]Relation, len(p.Relations)),
		InitialRoutes: make([]InitialRoute, len(p.InitialRoutes)),
		Configuration: p.Configuration.Clone(),
	}
	for i, m := range p.Missions {
		out.Missions[i] = m.Clone()
	}
	for i, r := range p.Resources {
		out.Resources[i] = r.Clone()
	}
	for i, m := range p.Matrices {
		out.Matrices[i] = m.Clone()
	}
	for i, r := range p.Relations {
		r.LinkedMissionIDs = slices.Clone(r.LinkedMissionIDs)
		r.LinkedResourceIDs = slices.Clone(r.LinkedResourceIDs)
		out.Relations[i] = r
	}
	for i, r := range p.InitialRoutes {
		r.MissionIDs = slices.Clone(r.MissionIDs)
		out.InitialRoutes[i] = r
	}
	return out
}

// Partial builds an independent instance restricted to the given missions and
// resources. Locations are limited to the ones still referenced, relations and
// initial routes to the ones whose members all survived.
func (p *ProblemInstance) Partial(missionIDs, resourceIDs []string) *ProblemInstance {
	keepM := toSet(missionIDs)
	keepR := toSet(resourceIDs)

	out := &ProblemInstance{
		Name:          p.Name,
		Units:         slices.Clone(p.Units),
		Matrices:      make([]Matrix, len(p.Matrices)),
		Configuration: p.Configuration.Clone(),
	}
	used := map[string]struct{}{}
	for _, m := range p.Missions {
		if _, ok := keepM[m.ID]; ok {
			out.Missions = append(out.Missions, m.Clone())
			used[m.LocationID] = struct{}{}
		}
	}
	for _, r := range p.Resources {
		if _, ok := keepR[r.ID]; ok {
			out.Resources = append(out.Resources, r.Clone())
			used[r.StartLocationID] = struct{}{}
			used[r.EndLocationID] = struct{}{}
		}
	}
	for _, l := range p.Locations {
		if _, ok := used[l.ID]; ok {
			out.Locations = append(out.Locations, l)
		}
	}
	for i, m := range p.Matrices {
		out.Matrices[i] = m.Clone()
	}
	for _, r := range p.Relations {
		if !allIn(r.LinkedMissionIDs, keepM) || !allIn(r.LinkedResourceIDs, keepR) {
			continue
		}
		r.LinkedMissionIDs = slices.Clone(r.LinkedMissionIDs)
		r.LinkedResourceIDs = slices.Clone(r.LinkedResourceIDs)
		out.Relations = append(out.Relations, r)
	}
	for _, r := range p.InitialRoutes {
		if _, ok := keepR[r.ResourceID]; !ok {
			continue
		}
		ids := make([]string, 0, len(r.MissionIDs))
		for _, id := range r.MissionIDs {
			if _, ok := keepM[id]; ok {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			out.InitialRoutes = append(out.InitialRoutes, InitialRoute{ResourceID: r.ResourceID, Day: r.Day, MissionIDs: ids})
		}
	}
	return out
}

// MissionIDs lists mission identifiers in instance order.
func (p *ProblemInstance) MissionIDs() []string {
	out := make([]string, len(p.Missions))
	for i, m := range p.Missions {
		out[i] = m.ID
	}
	return out
}

func (p *ProblemInstance) ResourceIDs() []string {
	out := make([]string, len(p.Resources))
	for i, r := range p.Resources {
		out[i] = r.ID
	}
	return out
}

// PreRoutedMissions counts missions already placed by initial routes.
func (p *ProblemInstance) PreRoutedMissions() int {
	n := 0
	for _, r := range p.InitialRoutes {
		n += len(r.MissionIDs)
	}
	return n
}

func (m Mission) Clone() Mission {
	m.Skills = slices.Clone(m.Skills)
	m.Quantities = slices.Clone(m.Quantities)
	m.MinimumLapse = cloneInt(m.MinimumLapse)
	m.MaximumLapse = cloneInt(m.MaximumLapse)
	m.TimeWindows = cloneWindows(m.TimeWindows)
	m.PinnedResourceIDs = slices.Clone(m.PinnedResourceIDs)
	return m
}

func (r Resource) Clone() Resource {
	if r.Skills != nil {
		skills := make([][]string, len(r.Skills))
		for i, alt := range r.Skills {
			skills[i] = slices.Clone(alt)
		}
		r.Skills = skills
	}
	r.Capacities = slices.Clone(r.Capacities)
	if r.TimeWindow != nil {
		tw := *r.TimeWindow
		tw.DayIndex = cloneInt(tw.DayIndex)
		r.TimeWindow = &tw
	}
	r.SequenceTimeWindows = cloneWindows(r.SequenceTimeWindows)
	r.UnavailableDays = slices.Clone(r.UnavailableDays)
	return r
}

func (m Matrix) Clone() Matrix {
	return Matrix{ID: m.ID, Time: cloneTable(m.Time), Distance: cloneTable(m.Distance)}
}

func cloneTable(t [][]float64) [][]float64 {
	if t == nil {
		return nil
	}
	out := make([][]float64, len(t))
	for i, row := range t {
		out[i] = slices.Clone(row)
	}
	return out
}

func cloneWindows(tws []TimeWindow) []TimeWindow {
	if tws == nil {
		return nil
	}
	out := make([]TimeWindow, len(tws))
	for i, tw := range tws {
		tw.DayIndex = cloneInt(tw.DayIndex)
		out[i] = tw
	}
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func allIn(ids []string, set map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// IntPtr is a convenience for optional integer fields.
func IntPtr(v int) *int { return &v }
