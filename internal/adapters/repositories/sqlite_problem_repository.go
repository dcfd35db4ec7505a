package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"route-decomposition-service/internal/domain"
)

// SqliteProblemRepository stores submitted instances as JSON documents.
type SqliteProblemRepository struct{ DB *sql.DB }

func NewSqliteProblemRepository(db *sql.DB) *SqliteProblemRepository {
	return &SqliteProblemRepository{DB: db}
}

func (s *SqliteProblemRepository) SaveProblem(ctx context.Context, jobID string, inst *domain.ProblemInstance) error {
	return saveProblem(ctx, s.DB, `
	INSERT OR REPLACE INTO problems (job_id, name, payload)
	VALUES (?, ?, ?);
	`, jobID, inst)
}

func (s *SqliteProblemRepository) LoadProblem(ctx context.Context, jobID string) (*domain.ProblemInstance, error) {
	return loadProblem(ctx, s.DB, `SELECT payload FROM problems WHERE job_id = ?;`, jobID)
}

// SQLProblemRepository is the Postgres flavour of the problem store.
type SQLProblemRepository struct{ DB *sql.DB }

func NewSQLProblemRepository(db *sql.DB) *SQLProblemRepository {
	return &SQLProblemRepository{DB: db}
}

func (s *SQLProblemRepository) SaveProblem(ctx context.Context, jobID string, inst *domain.ProblemInstance) error {
	return saveProblem(ctx, s.DB, `
	INSERT INTO problems (job_id, name, payload)
	VALUES ($1, $2, $3)
	ON CONFLICT (job_id) DO UPDATE
	SET name = EXCLUDED.name, payload = EXCLUDED.payload;
	`, jobID, inst)
}

func (s *SQLProblemRepository) LoadProblem(ctx context.Context, jobID string) (*domain.ProblemInstance, error) {
	return loadProblem(ctx, s.DB, `SELECT payload FROM problems WHERE job_id = $1;`, jobID)
}

func saveProblem(ctx context.Context, db *sql.DB, query, jobID string, inst *domain.ProblemInstance) error {
	if db == nil {
		return errors.New("problem repository: DB is nil")
	}
	if jobID == "" {
		return errors.New("save problem: job id must not be empty")
	}
	payload, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("save problem %s: marshal: %w", jobID, err)
	}
	if _, err := db.ExecContext(ctx, query, jobID, inst.Name, string(payload)); err != nil {
		return fmt.Errorf("save problem %s: %w", jobID, err)
	}
	return nil
}

func loadProblem(ctx context.Context, db *sql.DB, query, jobID string) (*domain.ProblemInstance, error) {
	if db == nil {
		return nil, errors.New("problem repository: DB is nil")
	}
	var payload string
	err := db.QueryRowContext(ctx, query, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load problem %s: %w", jobID, ErrProblemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load problem %s: %w", jobID, err)
	}

	var inst domain.ProblemInstance
	if err := json.Unmarshal([]byte(payload), &inst); err != nil {
		return nil, fmt.Errorf("load problem %s: parse payload: %w", jobID, err)
	}
	return &inst, nil
}

var ErrProblemNotFound = errors.New("problem not found")
