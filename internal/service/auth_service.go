package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "exstem-proctor"

// Common auth errors.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionAlreadyActive = errors.New("another session is already active, please log out first")
	ErrSessionInvalidated   = errors.New("session invalidated")
)

// Claims identify the account behind a bearer token. ID (jti) names the device session.
type Claims struct {
	jwt.RegisteredClaims
	Role        model.Role `json:"role"`
	CandidateID int        `json:"candidate_id"`
}

// endSession deletes the session key only when it still holds the caller's jti,
// so a stale logout cannot end a newer login.
var endSession = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AuthService issues and checks tokens and owns the single-device sessions.
type AuthService struct {
	cfg    *config.Config
	rdb    *redis.Client
	parser *jwt.Parser
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{
		cfg: cfg,
		rdb: rdb,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// IssueToken signs a token for c. A candidate may hold one device session at a
// time: the session is claimed atomically in Redis and a second login is
// rejected until logout or expiry. Proctors are not session bound.
func (s *AuthService) IssueToken(ctx context.Context, c *model.Candidate) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   strconv.Itoa(c.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		Role:        c.Role,
		CandidateID: c.ID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if c.Role != model.RoleCandidate {
		return signed, nil
	}
	ok, err := s.rdb.SetNX(ctx, config.CacheKey.CandidateSessionKey(c.ID), claims.ID, s.cfg.JWTExpiry).Result()
	if err != nil {
		return "", fmt.Errorf("claim session: %w", err)
	}
	if !ok {
		return "", ErrSessionAlreadyActive
	}
	return signed, nil
}

// ValidateToken verifies signature, issuer and expiry and returns the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, err := s.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	}); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.CandidateID == 0 {
		return nil, errors.New("token has no candidate")
	}
	return claims, nil
}

// ValidateSession checks that jti is the candidate's current device session.
func (s *AuthService) ValidateSession(ctx context.Context, candidateID int, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.CandidateSessionKey(candidateID)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrSessionInvalidated
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// EndSession releases the device session held by jti, allowing a new login.
// Ending a session that was already replaced or expired is not an error.
func (s *AuthService) EndSession(ctx context.Context, candidateID int, jti string) error {
	if err := endSession.Run(ctx, s.rdb, []string{config.CacheKey.CandidateSessionKey(candidateID)}, jti).Err(); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}
