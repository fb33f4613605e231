package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, test_id, candidate_id, status, started_at, finished_at,
	current_question, time_spent, warning_count, score, reason`

func scanAttempt(row interface{ Scan(...any) error }) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.TestID, &a.CandidateID, &a.Status, &a.StartedAt, &a.FinishedAt,
		&a.CurrentQuestion, &a.TimeSpent, &a.WarningCount, &a.Score, &a.Reason)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetOpen retrieves the in-progress attempt of a candidate on a test.
func (r *AttemptRepository) GetOpen(ctx context.Context, testID uuid.UUID, candidateID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE test_id = $1 AND candidate_id = $2 AND status = $3`,
		testID, candidateID, model.AttemptStatusInProgress))
}

// Create opens a new attempt. An existing open attempt is returned instead.
func (r *AttemptRepository) Create(ctx context.Context, testID uuid.UUID, candidateID int) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`INSERT INTO attempts (test_id, candidate_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (test_id, candidate_id) WHERE status = 'IN_PROGRESS' DO NOTHING
		 RETURNING `+attemptColumns,
		testID, candidateID, model.AttemptStatusInProgress))
	if err == nil {
		return a, nil
	}
	return r.GetOpen(ctx, testID, candidateID)
}
