package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"route-decomposition-service/internal/domain"
)

// Initialize the database schema. The statements are valid for both SQLite
// and Postgres.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createProblemsQuery := `
	CREATE TABLE IF NOT EXISTS problems (
		job_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	`

	createDistanceCacheQuery := `
	CREATE TABLE IF NOT EXISTS distance_cache (
        origin TEXT NOT NULL,
        destination TEXT NOT NULL,
        distance_meters INTEGER NOT NULL,
        duration_seconds INTEGER NOT NULL,
        PRIMARY KEY (origin, destination)
    );
	`

	createIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_distance_cache_destination_origin
    ON distance_cache(destination, origin);
	`

	statements := []string{
		createProblemsQuery,
		createDistanceCacheQuery,
		createIndexQuery,
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}
	return nil
}

// LoadInstanceJSON reads a problem instance from a JSON file.
func LoadInstanceJSON(path string) (*domain.ProblemInstance, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load instance: read %q: %w", path, err)
	}

	var inst domain.ProblemInstance
	if err := json.Unmarshal(bytes, &inst); err != nil {
		return nil, fmt.Errorf("load instance: parse json: %w", err)
	}

	if err := inst.CheckIdentifiers(); err != nil {
		return nil, fmt.Errorf("load instance %q: %w", path, err)
	}
	return &inst, nil
}
