package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"route-decomposition-service/internal/adapters/repositories"
	"route-decomposition-service/internal/config"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const problem = `{
	"locations": [
		{"id": "a", "coordinates": {"lon": 2.35, "lat": 48.85}},
		{"id": "b", "coordinates": {"lon": 2.36, "lat": 48.86}, "matrix_index": 1}
	],
	"missions": [
		{"id": "m1", "location_id": "a", "duration": 300},
		{"id": "m2", "location_id": "b", "duration": 300}
	],
	"resources": [
		{"id": "r1", "start_location_id": "a"}
	]
}`

func TestGateways_PriorityOrder(t *testing.T) {
	gws, err := Gateways(config.SolverConfig{Priority: []string{"demo", "vroom", "local"}}, nil)
	require.NoError(t, err)

	// vroom has no url and is skipped.
	require.Len(t, gws, 2)
	assert.Equal(t, ports.SolverDemo, gws[0].Kind())
	assert.Equal(t, ports.SolverLocal, gws[1].Kind())
}

func TestGateways_Errors(t *testing.T) {
	_, err := Gateways(config.SolverConfig{Priority: []string{"ortools"}}, nil)
	assert.ErrorContains(t, err, `unknown solver "ortools"`)

	_, err = Gateways(config.SolverConfig{Priority: []string{"vroom"}}, nil)
	assert.ErrorContains(t, err, "no solver configured")
}

func TestOrchestratorConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Orchestration.Workers = 3
	cfg.Orchestration.Dichotomous.MinMissions = 80

	oc := OrchestratorConfig(cfg.Orchestration)
	assert.Equal(t, 3, oc.Workers)
	assert.Equal(t, 80, oc.Dichotomous.MinMissions)
	assert.Equal(t, cfg.Orchestration.Clustering.Restarts, oc.Clustering.Restarts)
}

func TestNew_SqliteEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "problem.json")
	require.NoError(t, os.WriteFile(path, []byte(problem), 0o600))

	cfg := config.Default()
	cfg.Solver.Priority = []string{"local"}
	cfg.Database.URL = filepath.Join(dir, "db", "app.db")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	inst, err := repositories.LoadInstanceJSON(path)
	require.NoError(t, err)

	id, err := a.Jobs.Submit(ctx, inst)
	require.NoError(t, err)
	require.NoError(t, a.Jobs.Wait(ctx, id))

	rec, err := a.Jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ports.JobCompleted, rec.Status)
	require.Len(t, rec.Solutions, 1)
	assert.Equal(t, 2, rec.Solutions[0].AssignedCount())

	// The submitted problem was persisted next to the cache.
	_, err = os.Stat(cfg.Database.URL)
	assert.NoError(t, err)
}

func TestMatrixProvider(t *testing.T) {
	cfg := config.MatrixConfig{
		Provider: "static",
		Static: []config.StaticPair{
			{From: "a", To: "b", Meters: 1000, Seconds: 120},
			{From: "b", To: "a", Meters: 1100, Seconds: 130},
		},
	}
	p, err := MatrixProvider(cfg, nil, nil)
	require.NoError(t, err)

	mat, err := p.ComputeMatrix(context.Background(), "car", []domain.Location{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 120}, {130, 0}}, mat.Time)

	_, err = MatrixProvider(config.MatrixConfig{Provider: "ors"}, nil, zap.NewNop())
	assert.Error(t, err, "ors needs an api key")
}
