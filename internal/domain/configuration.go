package domain

import (
	"fmt"
	"slices"
)

type PartitionMethod string

const (
	PartitionBalancedKMeans   PartitionMethod = "balanced_kmeans"
	PartitionHierarchicalTree PartitionMethod = "hierarchical_tree"
)

type PartitionEntity string

const (
	EntityNone    PartitionEntity = ""
	EntityVehicle PartitionEntity = "vehicle"
	EntityWorkDay PartitionEntity = "work_day"
)

const (
	MetricDuration = "duration"
	MetricVisits   = "visits"
)

// First solution strategies. A solver that cannot honor the requested one
// reports it among its inapplicability reasons.
const (
	StrategyPathCheapestArc           = "path_cheapest_arc"
	StrategyParallelCheapestInsertion = "parallel_cheapest_insertion"
	StrategySelfSelection             = "self_selection"
)

// Partition describes one clustering phase. Metric is "duration", "visits" or a unit id.
type Partition struct {
	Method PartitionMethod `json:"method"`
	Metric string          `json:"metric,omitempty"`
	Entity PartitionEntity `json:"entity,omitempty"`
	// Clusters is only used when Entity is empty.
	Clusters int `json:"clusters,omitempty"`
}

type Resolution struct {
	DurationMs             int64  `json:"duration,omitempty"`
	MinimumDurationMs      int64  `json:"minimum_duration,omitempty"`
	ResourceLimit          int    `json:"vehicle_limit,omitempty"`
	Repetition             int    `json:"repetition,omitempty"`
	SeveralSolutions       int    `json:"several_solutions,omitempty"`
	Seed                   uint64 `json:"seed,omitempty"`
	AllowPartialAssignment bool   `json:"allow_partial_assignment"`
	AllowEmptyResult       bool   `json:"allow_empty_result,omitempty"`
}

type Preprocessing struct {
	Partitions            []Partition `json:"partitions,omitempty"`
	MaxSplitSize          int         `json:"max_split_size,omitempty"`
	FirstSolutionStrategy []string    `json:"first_solution_strategy,omitempty"`
	RestrictedSkills      []string    `json:"restricted_skills,omitempty"`
}

// Schedule is an inclusive range of day indices.
type Schedule struct {
	StartDay int `json:"start_day"`
	EndDay   int `json:"end_day"`
}

func (s Schedule) Days() []int {
	out := make([]int, 0, s.EndDay-s.StartDay+1)
	for d := s.StartDay; d <= s.EndDay; d++ {
		out = append(out, d)
	}
	return out
}

type Configuration struct {
	Resolution    Resolution    `json:"resolution"`
	Preprocessing Preprocessing `json:"preprocessing"`
	Schedule      *Schedule     `json:"schedule,omitempty"`
}

func (c Configuration) Clone() Configuration {
	c.Preprocessing.Partitions = slices.Clone(c.Preprocessing.Partitions)
	c.Preprocessing.FirstSolutionStrategy = slices.Clone(c.Preprocessing.FirstSolutionStrategy)
	c.Preprocessing.RestrictedSkills = slices.Clone(c.Preprocessing.RestrictedSkills)
	if c.Schedule != nil {
		s := *c.Schedule
		c.Schedule = &s
	}
	return c
}

// Validate rejects unknown partition strategies before any work is scheduled.
func (c Configuration) Validate(units []Unit) error {
	for i, p := range c.Preprocessing.Partitions {
		switch p.Method {
		case PartitionBalancedKMeans, PartitionHierarchicalTree:
		default:
			return &ConfigError{Field: fmt.Sprintf("partitions[%d].method", i), Value: string(p.Method), Err: ErrUnknownPartitionMethod}
		}
		switch p.Entity {
		case EntityNone, EntityVehicle, EntityWorkDay:
		default:
			return &ConfigError{Field: fmt.Sprintf("partitions[%d].entity", i), Value: string(p.Entity), Err: ErrUnknownPartitionEntity}
		}
		if p.Metric == "" || p.Metric == MetricDuration || p.Metric == MetricVisits {
			continue
		}
		if !slices.ContainsFunc(units, func(u Unit) bool { return u.ID == p.Metric }) {
			return &ConfigError{Field: fmt.Sprintf("partitions[%d].metric", i), Value: p.Metric, Err: ErrUnknownMetric}
		}
	}
	if s := c.Schedule; s != nil && s.EndDay < s.StartDay {
		return &ConfigError{Field: "schedule", Value: fmt.Sprintf("%d..%d", s.StartDay, s.EndDay), Err: ErrInvalidSchedule}
	}
	return nil
}
