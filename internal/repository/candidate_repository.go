package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// CandidateRepository handles candidate data access.
type CandidateRepository struct {
	pool *pgxpool.Pool
}

// NewCandidateRepository creates a new CandidateRepository.
func NewCandidateRepository(pool *pgxpool.Pool) *CandidateRepository {
	return &CandidateRepository{pool: pool}
}

// GetByID retrieves a candidate by ID.
func (r *CandidateRepository) GetByID(ctx context.Context, id int) (*model.Candidate, error) {
	c := &model.Candidate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, role, password_hash, created_at, updated_at
		 FROM candidates WHERE id = $1`, id,
	).Scan(&c.ID, &c.Email, &c.Name, &c.Role, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetByEmail retrieves a candidate by their unique email.
func (r *CandidateRepository) GetByEmail(ctx context.Context, email string) (*model.Candidate, error) {
	c := &model.Candidate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, role, password_hash, created_at, updated_at
		 FROM candidates WHERE email = $1`, email,
	).Scan(&c.ID, &c.Email, &c.Name, &c.Role, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create inserts a new candidate, or updates name, role and password when the email exists.
func (r *CandidateRepository) Create(ctx context.Context, c *model.Candidate) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO candidates (email, name, role, password_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE
		 SET name = EXCLUDED.name, role = EXCLUDED.role,
		     password_hash = EXCLUDED.password_hash, updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		c.Email, c.Name, c.Role, c.PasswordHash,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}
