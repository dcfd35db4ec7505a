package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"route-decomposition-service/internal/platform/obs"
	"route-decomposition-service/internal/ports"
	"strings"

	"go.uber.org/zap"
)

// SQLTravelCache is a Postgres-backed cache for origin->destination travel results.
type SQLTravelCache struct {
	DB     *sql.DB
	logger *zap.Logger
}

func NewSQLTravelCache(db *sql.DB, logger *zap.Logger) *SQLTravelCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLTravelCache{DB: db, logger: logger}
}

// Fetch cached travel results for one origin and multiple destinations.
func (s *SQLTravelCache) GetMany(
	ctx context.Context,
	origin string,
	destinations []string,
) (_ map[string]ports.TravelResult, err error) {
	defer obs.Time(ctx, s.logger, "travel.cache.GetMany")(&err)

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

	q := `
	SELECT destination, distance_meters, duration_seconds
    FROM distance_cache
    WHERE origin = $1
        AND destination = ANY($2::text[]);
	`

	rows, err := s.DB.QueryContext(ctx, q, origin, uniq)
	if err != nil {
		return nil, fmt.Errorf("get travel cache: query distance_cache table: %w", err)
	}
	defer rows.Close()

	return scanTravel(rows, len(uniq))
}

// Store many cached travel results for a single origin.
func (s *SQLTravelCache) PutMany(
	ctx context.Context,
	origin string,
	results map[string]ports.TravelResult,
) error {
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
	INSERT INTO distance_cache (origin, destination, distance_meters, duration_seconds)
    VALUES ($1, $2, $3, $4)
	ON CONFLICT (origin, destination) DO UPDATE
	SET distance_meters = EXCLUDED.distance_meters,
		duration_seconds = EXCLUDED.duration_seconds;
	`, origin, results)
}

func uniqueKeys(keys []string) []string {
	seen := map[string]struct{}{}
	uniq := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	return uniq
}

func scanTravel(rows *sql.Rows, size int) (map[string]ports.TravelResult, error) {
	out := make(map[string]ports.TravelResult, size)
	for rows.Next() {
		var dest string
		var meters, seconds int
		if err := rows.Scan(&dest, &meters, &seconds); err != nil {
			return nil, fmt.Errorf("get travel cache: scan rows: %w", err)
		}
		out[dest] = ports.TravelResult{
			DistanceMeters:  meters,
			DurationSeconds: seconds,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get travel cache: row iteration: %w", err)
	}
	return out, nil
}

func putMany(ctx context.Context, db *sql.DB, query, origin string, results map[string]ports.TravelResult) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert travel cache: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("insert travel cache: db prepare: %w", err)
	}
	defer stmt.Close()

	for dest, r := range results {
		if strings.TrimSpace(dest) == "" {
			return fmt.Errorf("insert travel cache: empty destination key")
		}
		if _, err := stmt.ExecContext(ctx, origin, dest, r.DistanceMeters, r.DurationSeconds); err != nil {
			return fmt.Errorf("insert travel cache dest=%q: %w", dest, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert travel cache commit: %w", err)
	}
	return nil
}
