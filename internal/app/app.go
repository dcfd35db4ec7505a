// Package app is the composition root shared by the server and the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"route-decomposition-service/internal/adapters/cache"
	"route-decomposition-service/internal/adapters/distance"
	"route-decomposition-service/internal/adapters/jobs"
	"route-decomposition-service/internal/adapters/repositories"
	"route-decomposition-service/internal/adapters/solver"
	"route-decomposition-service/internal/clustering"
	"route-decomposition-service/internal/config"
	"route-decomposition-service/internal/feasibility"
	"route-decomposition-service/internal/platform/db"
	"route-decomposition-service/internal/platform/metrics"
	"route-decomposition-service/internal/ports"
	"route-decomposition-service/internal/services"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// App holds the wired services of one process.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Scope        tally.Scope
	Orchestrator *services.Orchestrator
	Jobs         *services.JobManager

	closers []io.Closer
}

// New wires adapters behind ports. An empty database url runs without a
// travel cache or problem store.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	scope, closer := metrics.NewRootScope("route_decomposition", nil, nil, time.Second)
	a.Scope = scope
	a.closers = append(a.closers, closer)

	var (
		travel   ports.TravelCache
		problems ports.ProblemRepository
	)
	if cfg.Database.URL != "" {
		conn, err := openDatabase(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("new app: %w", err)
		}
		a.closers = append(a.closers, conn)
		if cfg.Database.Driver == db.DriverSQLite {
			travel = cache.NewSqliteTravelCache(conn)
			problems = repositories.NewSqliteProblemRepository(conn)
		} else {
			travel = cache.NewSQLTravelCache(conn, logger)
			problems = repositories.NewSQLProblemRepository(conn)
		}
	}

	matrix, err := MatrixProvider(cfg.Matrix, travel, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("new app: %w", err)
	}
	gateways, err := Gateways(cfg.Solver, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("new app: %w", err)
	}

	registry, err := registry(ctx, cfg.Jobs)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("new app: %w", err)
	}
	if c, ok := registry.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.Orchestrator = services.NewOrchestrator(
		gateways,
		matrix,
		feasibility.NewChecker(),
		logger,
		scope,
		OrchestratorConfig(cfg.Orchestration),
	)
	a.Jobs = services.NewJobManager(a.Orchestrator, registry, problems, logger)

	logger.Info("app ready",
		zap.Strings("solvers", cfg.Solver.Priority),
		zap.String("matrix", cfg.Matrix.Provider),
		zap.String("registry", cfg.Jobs.Registry),
		zap.Bool("database", cfg.Database.URL != ""),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == db.DriverSQLite {
		if dir := filepath.Dir(cfg.URL); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("open database: create %s: %w", dir, err)
			}
		}
	}
	conn, err := db.Open(ctx, cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repositories.InitSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return conn, nil
}

// Gateways builds the solver gateways in priority order.
func Gateways(cfg config.SolverConfig, logger *zap.Logger) ([]ports.SolverGateway, error) {
	out := make([]ports.SolverGateway, 0, len(cfg.Priority))
	for _, name := range cfg.Priority {
		switch ports.SolverKind(name) {
		case ports.SolverLocal:
			out = append(out, solver.NewLocalSolver(logger))
		case ports.SolverVroom:
			if cfg.VroomURL == "" {
				logger.Warn("vroom skipped: no url configured")
				continue
			}
			g, err := solver.NewVroomSolver(cfg.VroomURL, config.Duration(cfg.VroomTimeout, time.Minute), logger)
			if err != nil {
				return nil, fmt.Errorf("gateways: %w", err)
			}
			out = append(out, g)
		case ports.SolverDemo:
			out = append(out, solver.NewDemoSolver())
		default:
			return nil, fmt.Errorf("gateways: unknown solver %q", name)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("gateways: no solver configured")
	}
	return out, nil
}

// MatrixProvider returns the provider named by cfg, crow-fly by default.
func MatrixProvider(cfg config.MatrixConfig, travel ports.TravelCache, logger *zap.Logger) (ports.MatrixProvider, error) {
	switch cfg.Provider {
	case "static":
		pairs := make([]distance.StaticPair, 0, len(cfg.Static))
		for _, p := range cfg.Static {
			pairs = append(pairs, distance.StaticPair{From: p.From, To: p.To, Meters: p.Meters, Seconds: p.Seconds})
		}
		return distance.NewStaticMatrixProvider(pairs), nil
	case "ors":
	default:
		return distance.NewCrowFlyMatrixProvider(cfg.SpeedKmh), nil
	}
	if travel == nil {
		logger.Warn("ors matrix provider runs without a travel cache")
	}
	p, err := distance.NewORSMatrixProvider(cfg.ORSAPIKey, cfg.ORSURL, travel, logger)
	if err != nil {
		return nil, fmt.Errorf("matrix provider: %w", err)
	}
	return p, nil
}

func registry(ctx context.Context, cfg config.JobsConfig) (ports.JobRegistry, error) {
	if cfg.Registry != "redis" {
		return jobs.NewMemoryRegistry(), nil
	}
	r, err := jobs.OpenRedisRegistry(ctx, cfg.RedisURL, config.Duration(cfg.TTL, 24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("job registry: %w", err)
	}
	return r, nil
}

func OrchestratorConfig(cfg config.OrchestrationConfig) services.OrchestratorConfig {
	d := services.DefaultDichotomousConfig()
	d.UnassignedRatio = cfg.Dichotomous.UnassignedRatio
	d.MinResources = cfg.Dichotomous.MinResources
	d.MinMissions = cfg.Dichotomous.MinMissions
	d.MaxSplitAttempts = cfg.Dichotomous.MaxSplitAttempts
	d.BudgetDivisor = cfg.Dichotomous.BudgetDivisor

	return services.OrchestratorConfig{
		MaxDepth:             cfg.MaxDepth,
		Workers:              cfg.Workers,
		MaxSplitSize:         cfg.MaxSplitSize,
		IsolateUntagged:      cfg.IsolateUntagged,
		PoorlyPopulatedRatio: cfg.PoorlyPopulatedRatio,
		SplitSolveMinShare:   cfg.SplitSolveMinShare,
		Dichotomous:          d,
		Clustering: clustering.Options{
			Restarts:              cfg.Clustering.Restarts,
			Iterations:            cfg.Clustering.Iterations,
			Tolerance:             cfg.Clustering.Tolerance,
			IncompatibilityFactor: cfg.Clustering.IncompatibilityFactor,
			Seed:                  cfg.Clustering.Seed,
		},
	}
}
