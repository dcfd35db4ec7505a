package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"route-decomposition-service/internal/adapters/repositories"
	"route-decomposition-service/internal/app"
	"route-decomposition-service/internal/clustering"
	"route-decomposition-service/internal/config"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/platform/logging"
	"route-decomposition-service/internal/ports"
	"route-decomposition-service/internal/services"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath  string
	problemPath string
	verbose     bool
	timeout     time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "routecli",
		Short:         "Decompose and solve vehicle routing problems from JSON files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "YAML configuration file")
	root.PersistentFlags().StringVarP(&opts.problemPath, "problem", "p", "", "problem instance JSON file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging to stderr")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "kill the solve after this duration (0 = none)")
	_ = root.MarkPersistentFlagRequired("problem")

	root.AddCommand(newSolveCmd(opts), newPartitionCmd(opts), newClusterCmd(opts))
	return root
}

func (o *options) load() (*config.Config, *domain.ProblemInstance, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, true)
	if err != nil {
		return nil, nil, nil, err
	}
	inst, err := repositories.LoadInstanceJSON(o.problemPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := inst.Configuration.Validate(inst.Units); err != nil {
		return nil, nil, nil, err
	}
	return cfg, inst, logger, nil
}

func newSolveCmd(opts *options) *cobra.Command {
	var withDB bool
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a problem and print the solutions as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, inst, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if !withDB {
				cfg.Database.URL = ""
			}
			cfg.Jobs.Registry = "memory"

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			stderr := cmd.ErrOrStderr()
			progress := func(p ports.Progress) {
				if p.Message != "" {
					fmt.Fprintln(stderr, p.Message)
				}
			}
			sols, err := a.Orchestrator.Run(ctx, uuid.NewString(), inst, progress)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sols)
		},
	}
	cmd.Flags().BoolVar(&withDB, "db", false, "use the configured database for the travel cache")
	return cmd
}

type partSummary struct {
	Missions  []string `json:"missions"`
	Resources []string `json:"resources"`
	Duration  int64    `json:"duration_ms,omitempty"`
}

func summarize(parts []*domain.ProblemInstance) []partSummary {
	out := make([]partSummary, 0, len(parts))
	for _, p := range parts {
		out = append(out, partSummary{
			Missions:  p.MissionIDs(),
			Resources: p.ResourceIDs(),
			Duration:  p.Configuration.Resolution.DurationMs,
		})
	}
	return out
}

func newPartitionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "partition",
		Short: "Print the independent skill groups of a problem",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, inst, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			parts := services.PartitionBySkills(inst, services.SkillPartitionOptions{
				IsolateUntagged: cfg.Orchestration.IsolateUntagged,
			})
			return printJSON(cmd.OutOrStdout(), summarize(parts))
		},
	}
}

func newClusterCmd(opts *options) *cobra.Command {
	var (
		method   string
		metric   string
		entity   string
		clusters int
	)
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Print the balanced clusters of a problem",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, inst, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			part := domain.Partition{
				Method:   domain.PartitionMethod(method),
				Metric:   metric,
				Entity:   domain.PartitionEntity(entity),
				Clusters: clusters,
			}
			arena := domain.NewArena(inst)
			defer arena.Close()
			parts, err := clustering.Split(inst, arena, part, app.OrchestratorConfig(cfg.Orchestration).Clustering)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summarize(parts))
		},
	}
	cmd.Flags().StringVar(&method, "method", string(domain.PartitionBalancedKMeans), "balanced_kmeans or hierarchical_tree")
	cmd.Flags().StringVar(&metric, "metric", domain.MetricDuration, "duration, visits or a unit id")
	cmd.Flags().StringVar(&entity, "entity", "", "vehicle, work_day or empty")
	cmd.Flags().IntVarP(&clusters, "clusters", "n", 2, "number of clusters when no entity is set")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
