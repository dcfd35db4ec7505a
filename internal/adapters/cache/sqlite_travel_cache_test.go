package cache

import (
	"context"
	"database/sql"
	"testing"

	"route-decomposition-service/internal/adapters/repositories"
	"route-decomposition-service/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestSqliteTravelCache_PutThenGet(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	require.NoError(t, repositories.InitSchema(ctx, db))

	c := NewSqliteTravelCache(db)
	require.NoError(t, c.PutMany(ctx, "o", map[string]ports.TravelResult{
		"a": {DistanceMeters: 1200, DurationSeconds: 90},
		"b": {DistanceMeters: 3400, DurationSeconds: 240},
	}))
	require.NoError(t, c.PutMany(ctx, "o", map[string]ports.TravelResult{
		"a": {DistanceMeters: 1300, DurationSeconds: 95},
	}))

	got, err := c.GetMany(ctx, "o", []string{"a", " a ", "b", "c", ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]ports.TravelResult{
		"a": {DistanceMeters: 1300, DurationSeconds: 95},
		"b": {DistanceMeters: 3400, DurationSeconds: 240},
	}, got)

	_, err = c.GetMany(ctx, "", []string{"a"})
	assert.Error(t, err)
	assert.Error(t, c.PutMany(ctx, "o", map[string]ports.TravelResult{" ": {}}))
}
