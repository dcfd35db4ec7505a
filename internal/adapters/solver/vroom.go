package solver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/platform/httpx"
	"route-decomposition-service/internal/ports"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// VroomSolver posts instances to a VROOM server. It only handles one-day
// problems without relations.
type VroomSolver struct {
	client  *httpx.Client
	baseURL string
	logger  *zap.Logger
	// SyncLimit is the mission count up to which callers may wait inline.
	SyncLimit int
}

func NewVroomSolver(baseURL string, timeout time.Duration, logger *zap.Logger) (*VroomSolver, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("vroom url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VroomSolver{
		client:    httpx.NewClient(timeout, http.Header{}),
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
		SyncLimit: 200,
	}, nil
}

func (s *VroomSolver) Kind() ports.SolverKind { return ports.SolverVroom }

func (s *VroomSolver) InapplicabilityReasons(inst *domain.ProblemInstance) []string {
	var reasons []string
	if inst.Configuration.Schedule != nil {
		reasons = append(reasons, "schedules are not supported")
	}
	if len(inst.Relations) > 0 {
		reasons = append(reasons, "relations are not supported")
	}
	if slices.ContainsFunc(inst.Missions, func(m domain.Mission) bool { return m.Visits() > 1 }) {
		reasons = append(reasons, "missions with several visits are not supported")
	}
	if slices.ContainsFunc(inst.Resources, func(r domain.Resource) bool { return len(r.Skills) > 1 }) {
		reasons = append(reasons, "alternative skill sets are not supported")
	}
	if len(inst.Matrices) > 1 {
		reasons = append(reasons, "several matrices are not supported")
	}
	if slices.ContainsFunc(inst.Configuration.Preprocessing.FirstSolutionStrategy, func(st string) bool {
		return st != domain.StrategySelfSelection
	}) {
		reasons = append(reasons, "first solution strategy is not supported")
	}
	return reasons
}

func (s *VroomSolver) SolveSynchronous(inst *domain.ProblemInstance) bool {
	return len(inst.Missions) <= s.SyncLimit
}

type vroomCosts struct {
	Fixed int `json:"fixed,omitempty"`
}

type vroomVehicle struct {
	ID         int         `json:"id"`
	Start      *int        `json:"start_index,omitempty"`
	End        *int        `json:"end_index,omitempty"`
	Capacity   []int       `json:"capacity,omitempty"`
	Skills     []int       `json:"skills,omitempty"`
	TimeWindow [2]int      `json:"time_window"`
	MaxTravel  int         `json:"max_travel_time,omitempty"`
	Costs      *vroomCosts `json:"costs,omitempty"`
}

// generalistSurcharge is added to the fixed cost of vehicles outside the
// restricted skills so VROOM opens specialist vehicles first.
const generalistSurcharge = 3600

type vroomJob struct {
	ID          int      `json:"id"`
	Location    int      `json:"location_index"`
	Setup       int      `json:"setup,omitempty"`
	Service     int      `json:"service"`
	Delivery    []int    `json:"delivery,omitempty"`
	Skills      []int    `json:"skills,omitempty"`
	Priority    int      `json:"priority"`
	TimeWindows [][2]int `json:"time_windows,omitempty"`
}

type vroomMatrix struct {
	Durations [][]int `json:"durations"`
	Distances [][]int `json:"distances,omitempty"`
}

type vroomRequest struct {
	Vehicles []vroomVehicle         `json:"vehicles"`
	Jobs     []vroomJob             `json:"jobs"`
	Matrices map[string]vroomMatrix `json:"matrices"`
}

type vroomStep struct {
	Type     string `json:"type"`
	ID       int    `json:"id"`
	Arrival  int    `json:"arrival"`
	Distance int    `json:"distance"`
}

type vroomRoute struct {
	Vehicle  int         `json:"vehicle"`
	Steps    []vroomStep `json:"steps"`
	Duration int         `json:"duration"`
	Distance int         `json:"distance"`
}

type vroomResponse struct {
	Code       int          `json:"code"`
	Error      string       `json:"error"`
	Routes     []vroomRoute `json:"routes"`
	Unassigned []struct {
		ID int `json:"id"`
	} `json:"unassigned"`
}

// vroomPriority maps 0 (most important) .. 8 onto VROOM's 100 .. 0 scale.
func vroomPriority(p int) int {
	p = min(max(p, 0), 8)
	return (8 - p) * 100 / 8
}

func (s *VroomSolver) request(inst *domain.ProblemInstance) (vroomRequest, error) {
	if len(inst.Matrices) == 0 {
		return vroomRequest{}, errors.New("build vroom request: no matrix")
	}
	locations := inst.LocationIndex()
	index := func(id string) *int {
		if l, ok := locations[id]; ok {
			i := l.MatrixIndex
			return &i
		}
		return nil
	}

	skills := map[string]int{}
	skillIDs := func(ss []string) []int {
		out := make([]int, 0, len(ss))
		for _, sk := range domain.NormalizeSkills(ss) {
			if _, ok := skills[sk]; !ok {
				skills[sk] = len(skills) + 1
			}
			out = append(out, skills[sk])
		}
		return out
	}
	units := make([]string, 0, len(inst.Units))
	for _, u := range inst.Units {
		units = append(units, u.ID)
	}

	req := vroomRequest{Matrices: map[string]vroomMatrix{}}
	for i, m := range inst.Missions {
		job := vroomJob{
			ID:       i,
			Service:  m.Duration,
			Setup:    m.SetupDuration,
			Skills:   skillIDs(m.Skills),
			Priority: vroomPriority(m.Priority),
		}
		if idx := index(m.LocationID); idx != nil {
			job.Location = *idx
		}
		for _, tw := range m.TimeWindows {
			end := tw.End
			if end <= tw.Start {
				end = 1 << 30
			}
			job.TimeWindows = append(job.TimeWindows, [2]int{tw.Start, end})
		}
		if len(units) > 0 {
			job.Delivery = make([]int, len(units))
			for k, u := range units {
				job.Delivery[k] = int(m.Quantity(u))
			}
		}
		req.Jobs = append(req.Jobs, job)
	}
	for i, r := range inst.Resources {
		tw := r.Windows()[0]
		v := vroomVehicle{
			ID:         i,
			Start:      index(r.StartLocationID),
			End:        index(r.EndLocationID),
			TimeWindow: [2]int{tw.Start, tw.End},
			MaxTravel:  r.Duration,
		}
		if len(r.Skills) == 1 {
			v.Skills = skillIDs(r.Skills[0])
		}
		fixed := int(r.CostFixed)
		if restricted := inst.Configuration.Preprocessing.RestrictedSkills; len(restricted) > 0 &&
			!slices.ContainsFunc(r.Skills, func(alt []string) bool {
				return slices.ContainsFunc(alt, func(sk string) bool { return slices.Contains(restricted, sk) })
			}) {
			fixed += generalistSurcharge
		}
		if fixed > 0 {
			v.Costs = &vroomCosts{Fixed: fixed}
		}
		if len(units) > 0 {
			v.Capacity = make([]int, len(units))
			for k, u := range units {
				v.Capacity[k] = 1 << 30
				for _, c := range r.Capacities {
					if c.UnitID == u {
						v.Capacity[k] = int(c.Limit)
					}
				}
			}
		}
		req.Vehicles = append(req.Vehicles, v)
	}

	mat := inst.Matrices[0]
	vm := vroomMatrix{Durations: toInts(mat.Time)}
	if len(mat.Distance) > 0 {
		vm.Distances = toInts(mat.Distance)
	}
	req.Matrices["car"] = vm
	return req, nil
}

func toInts(t [][]float64) [][]int {
	out := make([][]int, len(t))
	for i, row := range t {
		out[i] = make([]int, len(row))
		for j, v := range row {
			out[i][j] = int(v + 0.5)
		}
	}
	return out
}

func (s *VroomSolver) Solve(
	ctx context.Context,
	inst *domain.ProblemInstance,
	jobID string,
	progress ports.ProgressFunc,
) (*domain.Solution, error) {
	start := time.Now()
	req, err := s.request(inst)
	if err != nil {
		return nil, &domain.GatewayError{Solver: string(ports.SolverVroom), Message: err.Error()}
	}
	ports.Report(progress, "vroom - solving")

	var resp vroomResponse
	if err := s.client.PostJSON(ctx, s.baseURL+"/", req, &resp); err != nil {
		if ctx.Err() != nil {
			sol := domain.UnassignedSolution(inst, domain.ReasonJobKilled)
			sol.Status = domain.StatusKilled
			sol.Solvers = []string{string(ports.SolverVroom)}
			return sol, nil
		}
		return nil, &domain.GatewayError{Solver: string(ports.SolverVroom), Message: err.Error()}
	}
	if resp.Code != 0 {
		return nil, &domain.GatewayError{
			Solver:  string(ports.SolverVroom),
			Message: fmt.Sprintf("code %d: %s", resp.Code, resp.Error),
		}
	}

	sol := s.solution(inst, resp)
	sol.ElapsedMs = time.Since(start).Milliseconds()
	s.logger.Debug("vroom solve done",
		zap.String("job_id", jobID),
		zap.Int("routes", len(sol.Routes)),
		zap.Int("unassigned", len(sol.Unassigned)),
	)
	return sol, nil
}

func (s *VroomSolver) solution(inst *domain.ProblemInstance, resp vroomResponse) *domain.Solution {
	sol := &domain.Solution{
		Status:  domain.StatusSolved,
		Routes:  []domain.Route{},
		Solvers: []string{string(ports.SolverVroom)},
	}
	used := map[int]bool{}
	for _, vr := range resp.Routes {
		if vr.Vehicle < 0 || vr.Vehicle >= len(inst.Resources) {
			continue
		}
		res := inst.Resources[vr.Vehicle]
		used[vr.Vehicle] = true
		route := domain.Route{ResourceID: res.ID, Day: domain.NoDay, Stops: []domain.Stop{}, Distance: float64(vr.Distance)}
		for _, st := range vr.Steps {
			switch st.Type {
			case "start":
				route.Start = st.Arrival
			case "end":
				route.End = st.Arrival
			case "job":
				if st.ID < 0 || st.ID >= len(inst.Missions) {
					continue
				}
				m := inst.Missions[st.ID]
				route.Stops = append(route.Stops, domain.Stop{MissionID: m.ID, LocationID: m.LocationID, Arrival: st.Arrival})
			}
		}
		if len(route.Stops) > 0 {
			sol.Cost.Fixed += res.CostFixed
			sol.Cost.Time += float64(vr.Duration) * res.CostTimeMultiplier
		}
		sol.Routes = append(sol.Routes, route)
	}
	for i, r := range inst.Resources {
		if !used[i] {
			tw := r.Windows()[0]
			sol.Routes = append(sol.Routes, domain.Route{ResourceID: r.ID, Day: domain.NoDay, Stops: []domain.Stop{}, Start: tw.Start, End: tw.Start})
		}
	}
	for _, u := range resp.Unassigned {
		if u.ID < 0 || u.ID >= len(inst.Missions) {
			continue
		}
		m := inst.Missions[u.ID]
		sol.AddUnassigned(m.ID, domain.ReasonNotPlanned)
		sol.Cost.Exclusion += m.ExclusionCost
	}
	sol.Normalize()
	return sol
}
