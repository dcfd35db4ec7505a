package ports

import (
	"context"
	"route-decomposition-service/internal/domain"
)

// SolverKind enumerates the gateways a deployment can dispatch to.
type SolverKind string

const (
	SolverLocal SolverKind = "local"
	SolverVroom SolverKind = "vroom"
	SolverDemo  SolverKind = "demo"
)

// SolverGateway is the contract of an external routing solver.
//
// Solve blocks until the solver finishes or ctx is cancelled. A cancelled
// solve returns the best partial solution with Status killed and a nil error.
// Solver-reported failures are returned as *domain.GatewayError.
type SolverGateway interface {
	Kind() SolverKind
	// InapplicabilityReasons lists why the gateway cannot solve inst. Empty means applicable.
	InapplicabilityReasons(inst *domain.ProblemInstance) []string
	// SolveSynchronous reports whether callers may wait inline for inst.
	SolveSynchronous(inst *domain.ProblemInstance) bool
	Solve(ctx context.Context, inst *domain.ProblemInstance, jobID string, progress ProgressFunc) (*domain.Solution, error)
}

// FeasibilityChecker detects missions no resource can ever serve.
type FeasibilityChecker interface {
	DetectUnfeasible(inst *domain.ProblemInstance) map[string]string
}
