package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"route-decomposition-service/internal/ports"
	"strings"
)

// SQLite backed cache for origin->destination travel results.
// Keys are coordinate strings built by the caller.
type SqliteTravelCache struct {
	DB *sql.DB
}

func NewSqliteTravelCache(db *sql.DB) *SqliteTravelCache {
	return &SqliteTravelCache{DB: db}
}

// Fetch cached travel results for one origin and multiple destinations.
func (s *SqliteTravelCache) GetMany(
	ctx context.Context,
	origin string,
	destinations []string,
) (map[string]ports.TravelResult, error) {
	if s.DB == nil {
		return nil, errors.New("travel cache: db is nil")
	}
	if origin == "" {
		return nil, errors.New("get travel cache: origin must not be empty")
	}

	uniq := uniqueKeys(destinations)
	if len(uniq) == 0 {
		return map[string]ports.TravelResult{}, nil
	}

	ph := make([]string, len(uniq))
	args := make([]any, 0, 1+len(uniq))
	args = append(args, origin)
	for i, d := range uniq {
		ph[i] = "?"
		args = append(args, d)
	}

	// SQLite does not support binding slices directly in an IN (...) clause.
	// Only the placeholder structure is interpolated; all values remain parameterized.
	q := fmt.Sprintf(`
	SELECT
        destination,
        distance_meters,
        duration_seconds
    FROM distance_cache
    WHERE origin = ?
        AND destination IN (%s);
	`, strings.Join(ph, ","))

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get travel cache: query distance_cache table: %w", err)
	}
	defer rows.Close()

	return scanTravel(rows, len(uniq))
}

// Store many cached travel results for a single origin.
func (s *SqliteTravelCache) PutMany(ctx context.Context, origin string, results map[string]ports.TravelResult) error {
	if s.DB == nil {
		return errors.New("travel cache: db is nil")
	}
	if origin == "" {
		return errors.New("insert travel cache: origin must not be empty")
	}
	if len(results) == 0 {
		return nil
	}

	return putMany(ctx, s.DB, `
	INSERT OR REPLACE INTO distance_cache (
        origin,
        destination,
        distance_meters,
        duration_seconds
    )
    VALUES (?, ?, ?, ?)
	`, origin, results)
}
