package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"route-decomposition-service/internal/adapters/repositories"
	"route-decomposition-service/internal/platform/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAndSeed(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(`{
		"locations": [{"id": "a", "coordinates": {"lon": 2.35, "lat": 48.85}}],
		"missions": [{"id": "m1", "location_id": "a", "duration": 60}],
		"resources": [{"id": "r1"}]
	}`), 0o600))

	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, initAndSeed(ctx, conn, db.DriverSQLite, seed))

	inst, err := repositories.NewSqliteProblemRepository(conn).LoadProblem(ctx, "seed")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, inst.MissionIDs())
}

func TestInitAndSeed_BadSeed(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer conn.Close()

	err = initAndSeed(ctx, conn, db.DriverSQLite, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "seeding failed")
}
