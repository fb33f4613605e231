package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// CandidateService handles candidate and proctor accounts.
type CandidateService struct {
	candidateRepo *repository.CandidateRepository
	auth          *AuthService
}

// NewCandidateService creates a new CandidateService.
func NewCandidateService(candidateRepo *repository.CandidateRepository, auth *AuthService) *CandidateService {
	return &CandidateService{candidateRepo: candidateRepo, auth: auth}
}

// GetByID retrieves a candidate by ID.
func (s *CandidateService) GetByID(ctx context.Context, id int) (*model.Candidate, error) {
	return s.candidateRepo.GetByID(ctx, id)
}

// Login checks the credentials and issues a token.
func (s *CandidateService) Login(ctx context.Context, req *model.LoginRequest) (*model.LoginResponse, error) {
	c, err := s.candidateRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	if err := s.auth.CheckPassword(c.PasswordHash, req.Password); err != nil {
		return nil, err
	}

	token, err := s.auth.IssueToken(ctx, c)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{Token: token, Candidate: *c}, nil
}

// Create hashes the plaintext password and upserts the account by email.
func (s *CandidateService) Create(ctx context.Context, c *model.Candidate, password string) error {
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	c.PasswordHash = hash
	return s.candidateRepo.Create(ctx, c)
}
