package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuth(t *testing.T) *AuthService {
	t.Helper()
	_, rdb := newRedis(t)
	return NewAuthService(&config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}, rdb)
}

func TestPasswordRoundTrip(t *testing.T) {
	auth := newAuth(t)
	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	require.NoError(t, auth.CheckPassword(hash, "hunter22"))
	require.ErrorIs(t, auth.CheckPassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestCandidateTokenIsSingleDevice(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()
	c := &model.Candidate{ID: 7, Role: model.RoleCandidate}

	token, err := auth.IssueToken(ctx, c)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.CandidateID)
	assert.Equal(t, model.RoleCandidate, claims.Role)
	require.NoError(t, auth.ValidateSession(ctx, 7, claims.ID))

	_, err = auth.IssueToken(ctx, c)
	require.ErrorIs(t, err, ErrSessionAlreadyActive)

	// A stale token cannot end the live session.
	require.NoError(t, auth.EndSession(ctx, 7, "some-older-jti"))
	require.NoError(t, auth.ValidateSession(ctx, 7, claims.ID))

	require.NoError(t, auth.EndSession(ctx, 7, claims.ID))
	require.ErrorIs(t, auth.ValidateSession(ctx, 7, claims.ID), ErrSessionInvalidated)

	again, err := auth.IssueToken(ctx, c)
	require.NoError(t, err)
	assert.NotEqual(t, token, again)
}

func TestProctorTokensAreNotSessionBound(t *testing.T) {
	auth := newAuth(t)
	ctx := context.Background()
	p := &model.Candidate{ID: 1, Role: model.RoleProctor}

	_, err := auth.IssueToken(ctx, p)
	require.NoError(t, err)
	_, err = auth.IssueToken(ctx, p)
	require.NoError(t, err)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	auth := newAuth(t)
	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour}, auth.rdb)

	token, err := other.IssueToken(context.Background(), &model.Candidate{ID: 2, Role: model.RoleProctor})
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.Error(t, err)
	_, err = auth.ValidateToken("not-a-jwt")
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongIssuerAndAlgorithm(t *testing.T) {
	auth := newAuth(t)
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: exp},
		CandidateID:      3,
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = auth.ValidateToken(signed)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer, ExpiresAt: exp},
		CandidateID:      3,
	})
	signed, err = hs512.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = auth.ValidateToken(signed)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
		CandidateID:      3,
	})
	signed, err = noExpiry.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = auth.ValidateToken(signed)
	require.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
}
