package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInconsistentSolution   = errors.New("inconsistent solution")
	ErrUnknownPartitionMethod = errors.New("unknown partition method")
	ErrUnknownPartitionEntity = errors.New("unknown partition entity")
	ErrUnknownMetric          = errors.New("unknown partition metric")
	ErrInvalidSchedule        = errors.New("invalid schedule")
	ErrNoApplicableSolver     = errors.New("no applicable solver")
	ErrMaxDepthExceeded       = errors.New("maximum resolution depth exceeded")
)

// Unassigned reasons reported to callers.
const (
	ReasonNoCompatibleResource = "no compatible resource"
	ReasonJobKilled            = "job killed"
	ReasonPoorlyPopulated      = "route was poorly populated"
	ReasonSkillsMismatch       = "resource skills do not cover mission skills"
	ReasonNotPlanned           = "no feasible day or resource found"
	ReasonOverCapacity         = "route capacity exceeded"
)

// InconsistencyError reports a merged solution that lost or duplicated visits.
type InconsistencyError struct {
	Expected   int
	Assigned   int
	Unassigned int
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf(
		"inconsistent solution: expected %d visits, got %d assigned + %d unassigned",
		e.Expected, e.Assigned, e.Unassigned,
	)
}

func (e *InconsistencyError) Unwrap() error { return ErrInconsistentSolution }

// ConfigError is returned when a configuration value names an unknown strategy.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// GatewayError carries a failure message reported by a solver.
type GatewayError struct {
	Solver  string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("solver %s: %s", e.Solver, e.Message)
}
