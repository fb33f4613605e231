package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// ─── Fake stores ─────────────────────────────────────────────────────────────

type fakeTestStore struct {
	mu        sync.Mutex
	tests     map[uuid.UUID]*model.Test
	questions map[uuid.UUID][]model.Question
	loads     int
}

func newFakeTestStore() *fakeTestStore {
	return &fakeTestStore{
		tests:     map[uuid.UUID]*model.Test{},
		questions: map[uuid.UUID][]model.Question{},
	}
}

// add registers a test whose correct option is i%len(options) for question i.
func (f *fakeTestStore) add(status model.TestStatus, n int) *model.Test {
	test := &model.Test{
		ID:              uuid.New(),
		ExamID:          "ssc-cgl",
		Title:           "Quantitative Aptitude Mock 1",
		DurationMinutes: 30,
		Status:          status,
	}
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:            uuid.New(),
			TestID:        test.ID,
			Prompt:        "question",
			Options:       []string{"a", "b", "c", "d"},
			CorrectOption: i % 4,
			OrderNum:      i + 1,
		}
	}
	f.mu.Lock()
	f.tests[test.ID] = test
	f.questions[test.ID] = qs
	f.mu.Unlock()
	return test
}

func (f *fakeTestStore) GetByID(_ context.Context, id uuid.UUID) (*model.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return t, nil
}

func (f *fakeTestStore) ListPublishedIDs(context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, t := range f.tests {
		if t.Status == model.TestStatusPublished {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeTestStore) ListQuestions(_ context.Context, testID uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.questions[testID], nil
}

type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{attempts: map[uuid.UUID]*model.Attempt{}}
}

func (f *fakeAttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttemptStore) GetOpen(_ context.Context, testID uuid.UUID, candidateID int) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.TestID == testID && a.CandidateID == candidateID && a.Status == model.AttemptStatusInProgress {
			cp := *a
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeAttemptStore) Create(ctx context.Context, testID uuid.UUID, candidateID int) (*model.Attempt, error) {
	if a, err := f.GetOpen(ctx, testID, candidateID); err == nil {
		return a, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &model.Attempt{
		ID:          uuid.New(),
		TestID:      testID,
		CandidateID: candidateID,
		Status:      model.AttemptStatusInProgress,
		StartedAt:   time.Now(),
	}
	f.attempts[a.ID] = a
	cp := *a
	return &cp, nil
}

type fixture struct {
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	tests      *fakeTestStore
	attempts   *fakeAttemptStore
	testSvc    *TestService
	attemptSvc *AttemptService
	proctorSvc *ProctoringService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, rdb := newRedis(t)
	f := &fixture{mr: mr, rdb: rdb, tests: newFakeTestStore(), attempts: newFakeAttemptStore()}
	f.testSvc = NewTestService(f.tests, rdb, zerolog.Nop())
	f.attemptSvc = NewAttemptService(f.attempts, f.testSvc, rdb, zerolog.Nop())
	f.proctorSvc = NewProctoringService(f.attemptSvc, rdb, &config.Config{SnapshotTTL: time.Hour}, zerolog.Nop())
	return f
}

func queueLen(t *testing.T, mr *miniredis.Miniredis, queue string) int {
	t.Helper()
	items, err := mr.List(queue)
	if err != nil {
		return 0
	}
	return len(items)
}

func intPtr(v int) *int { return &v }

func requireQueued(t *testing.T, mr *miniredis.Miniredis, queue string, n int) {
	t.Helper()
	require.Equal(t, n, queueLen(t, mr, queue), "queue %s", queue)
}
