// Package config loads the service configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Solver        SolverConfig        `yaml:"solver"`
	Matrix        MatrixConfig        `yaml:"matrix"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Port         string `yaml:"port"`
	WriteTimeout string `yaml:"write_timeout"`
}

// SolverConfig lists the gateways in the order they are tried.
type SolverConfig struct {
	Priority     []string `yaml:"priority"` // local, vroom, demo
	VroomURL     string   `yaml:"vroom_url"`
	VroomTimeout string   `yaml:"vroom_timeout"`
}

type MatrixConfig struct {
	Provider  string  `yaml:"provider"` // crowfly, ors, static
	ORSAPIKey string  `yaml:"ors_api_key"`
	ORSURL    string  `yaml:"ors_url"`
	SpeedKmh  float64 `yaml:"speed_kmh"`
	// Static is the travel table of the static provider, one entry per
	// ordered pair of location ids.
	Static []StaticPair `yaml:"static"`
}

type StaticPair struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Meters  int    `yaml:"meters"`
	Seconds int    `yaml:"seconds"`
}

type OrchestrationConfig struct {
	MaxDepth             int               `yaml:"max_depth"`
	Workers              int               `yaml:"workers"`
	MaxSplitSize         int               `yaml:"max_split_size"`
	IsolateUntagged      bool              `yaml:"isolate_untagged"`
	PoorlyPopulatedRatio float64           `yaml:"poorly_populated_ratio"`
	SplitSolveMinShare   float64           `yaml:"split_solve_min_share"`
	Dichotomous          DichotomousConfig `yaml:"dichotomous"`
	Clustering           ClusteringConfig  `yaml:"clustering"`
}

type DichotomousConfig struct {
	UnassignedRatio  float64 `yaml:"unassigned_ratio"`
	MinResources     int     `yaml:"min_resources"`
	MinMissions      int     `yaml:"min_missions"`
	MaxSplitAttempts int     `yaml:"max_split_attempts"`
	BudgetDivisor    float64 `yaml:"budget_divisor"`
}

type ClusteringConfig struct {
	Restarts              int     `yaml:"restarts"`
	Iterations            int     `yaml:"iterations"`
	Tolerance             float64 `yaml:"tolerance"`
	IncompatibilityFactor float64 `yaml:"incompatibility_factor"`
	Seed                  uint64  `yaml:"seed"`
}

type JobsConfig struct {
	Registry string `yaml:"registry"` // memory, redis
	RedisURL string `yaml:"redis_url"`
	TTL      string `yaml:"ttl"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, pgx
	URL    string `yaml:"url"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", WriteTimeout: "120s"},
		Solver: SolverConfig{Priority: []string{"vroom", "local"}, VroomTimeout: "60s"},
		Matrix: MatrixConfig{Provider: "crowfly", SpeedKmh: 50},
		Orchestration: OrchestrationConfig{
			MaxDepth:             64,
			Workers:              4,
			PoorlyPopulatedRatio: 0.5,
			SplitSolveMinShare:   0.10,
			Dichotomous: DichotomousConfig{
				UnassignedRatio:  0.7,
				MinResources:     3,
				MinMissions:      50,
				MaxSplitAttempts: 10,
				BudgetDivisor:    2.25,
			},
			Clustering: ClusteringConfig{
				Restarts:              50,
				Iterations:            300,
				Tolerance:             0.10,
				IncompatibilityFactor: 100,
				Seed:                  1,
			},
		},
		Jobs:     JobsConfig{Registry: "memory", TTL: "24h"},
		Database: DatabaseConfig{Driver: "sqlite", URL: "data/app.db"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
// Environment variables override both.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("load config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("load config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = Get("PORT", c.Server.Port)
	c.Solver.VroomURL = Get("VROOM_URL", c.Solver.VroomURL)
	if p := os.Getenv("SOLVER_PRIORITY"); p != "" {
		c.Solver.Priority = splitList(p)
	}
	if key := os.Getenv("ORS_API_KEY"); key != "" {
		c.Matrix.ORSAPIKey = key
		c.Matrix.Provider = "ors"
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Jobs.RedisURL = url
		c.Jobs.Registry = "redis"
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Database.URL = url
		if strings.HasPrefix(url, "postgres") {
			c.Database.Driver = "pgx"
		}
	}
	c.Logging.Level = Get("LOG_LEVEL", c.Logging.Level)
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestration.Workers = n
		}
	}
}

func (c *Config) validate() error {
	for _, name := range c.Solver.Priority {
		switch name {
		case "local", "vroom", "demo":
		default:
			return fmt.Errorf("solver.priority: unknown solver %q", name)
		}
	}
	switch c.Matrix.Provider {
	case "crowfly", "ors":
	case "static":
		if len(c.Matrix.Static) == 0 {
			return errors.New("matrix.static: static provider needs at least one pair")
		}
	default:
		return fmt.Errorf("matrix.provider: unknown provider %q", c.Matrix.Provider)
	}
	switch c.Jobs.Registry {
	case "memory", "redis":
	default:
		return fmt.Errorf("jobs.registry: unknown registry %q", c.Jobs.Registry)
	}
	for field, v := range map[string]string{
		"server.write_timeout": c.Server.WriteTimeout,
		"solver.vroom_timeout": c.Solver.VroomTimeout,
		"jobs.ttl":             c.Jobs.TTL,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	return nil
}

// Duration parses a duration field, returning fallback when it is empty or invalid.
func Duration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// Get returns the environment variable key or fallback when it is unset.
func Get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
