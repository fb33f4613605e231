package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

// ─── Fake stores ─────────────────────────────────────────────────────────────

type memStore struct {
	mu        sync.Mutex
	tests     map[uuid.UUID]*model.Test
	questions map[uuid.UUID][]model.Question
	attempts  map[uuid.UUID]*model.Attempt
}

func newMemStore() *memStore {
	return &memStore{
		tests:     map[uuid.UUID]*model.Test{},
		questions: map[uuid.UUID][]model.Question{},
		attempts:  map[uuid.UUID]*model.Attempt{},
	}
}

// addTest registers a published test whose correct option is always 0.
func (m *memStore) addTest(n int) *model.Test {
	test := &model.Test{
		ID:              uuid.New(),
		ExamID:          "gre",
		Title:           "Verbal Reasoning Practice",
		DurationMinutes: 20,
		Status:          model.TestStatusPublished,
	}
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:       uuid.New(),
			TestID:   test.ID,
			Prompt:   "Choose the best synonym",
			Options:  []string{"w", "x", "y", "z"},
			OrderNum: i + 1,
		}
	}
	m.mu.Lock()
	m.tests[test.ID] = test
	m.questions[test.ID] = qs
	m.mu.Unlock()
	return test
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*model.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tests[id]; ok {
		return t, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) ListPublishedIDs(context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id := range m.tests {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) ListQuestions(_ context.Context, testID uuid.UUID) ([]model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.questions[testID], nil
}

// attemptStore adapts memStore to service.AttemptStore; GetByID clashes with the test lookup.
type attemptStore struct{ *memStore }

func (a attemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if at, ok := a.attempts[id]; ok {
		cp := *at
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (a attemptStore) GetOpen(_ context.Context, testID uuid.UUID, candidateID int) (*model.Attempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, at := range a.attempts {
		if at.TestID == testID && at.CandidateID == candidateID && at.Status == model.AttemptStatusInProgress {
			cp := *at
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (a attemptStore) Create(ctx context.Context, testID uuid.UUID, candidateID int) (*model.Attempt, error) {
	if at, err := a.GetOpen(ctx, testID, candidateID); err == nil {
		return at, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	at := &model.Attempt{
		ID:          uuid.New(),
		TestID:      testID,
		CandidateID: candidateID,
		Status:      model.AttemptStatusInProgress,
		StartedAt:   time.Now(),
	}
	a.attempts[at.ID] = at
	cp := *at
	return &cp, nil
}

// ─── Fixture ─────────────────────────────────────────────────────────────────

type fixture struct {
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	store      *memStore
	tests      *service.TestService
	attempts   *service.AttemptService
	proctoring *service.ProctoringService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{mr: mr, rdb: rdb, store: newMemStore()}
	f.tests = service.NewTestService(f.store, rdb, zerolog.Nop())
	f.attempts = service.NewAttemptService(attemptStore{f.store}, f.tests, rdb, zerolog.Nop())
	f.proctoring = service.NewProctoringService(f.attempts, rdb, &config.Config{SnapshotTTL: time.Hour}, zerolog.Nop())
	return f
}

// as injects claims the way RequireJWT would.
func as(candidateID int, role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{CandidateID: candidateID, Role: role})
		c.Next()
	}
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func do(t *testing.T, r http.Handler, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func queueLen(mr *miniredis.Miniredis, queue string) int {
	items, err := mr.List(queue)
	if err != nil {
		return 0
	}
	return len(items)
}
