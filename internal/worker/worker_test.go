package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Fake database ───────────────────────────────────────────────────────────

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	mu      sync.Mutex
	copyErr error
	// execErr decides the outcome of each Exec from its arguments.
	execErr func(args []any) error
	copied  [][]any
	execs   []execCall
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.execErr != nil {
		if err := f.execErr(args); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeDB) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		f.copied = append(f.copied, vals)
		n++
	}
	return n, nil
}

func (f *fakeDB) copiedLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.copied)
}

func (f *fakeDB) execCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.execs)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func push(t *testing.T, mr *miniredis.Miniredis, queue string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = mr.Push(queue, string(raw))
	require.NoError(t, err)
}

func queued(mr *miniredis.Miniredis, queue string) []string {
	items, err := mr.List(queue)
	if err != nil {
		return nil
	}
	return items
}

func logFor(attempt uuid.UUID, activity string) model.ProctorLog {
	return model.ProctorLog{
		AttemptID:   attempt,
		TestID:      uuid.New(),
		CandidateID: 7,
		Entry: model.ActivityEntry{
			Timestamp:    time.Unix(1700000000, 0).UTC(),
			Activity:     activity,
			Severity:     "high",
			WarningCount: 1,
		},
	}
}

var fastRetry = Options{BatchSize: 2, BatchTimeout: 50 * time.Millisecond, RetryDelay: time.Millisecond}

// ─── Consumer loop ───────────────────────────────────────────────────────────

func TestProctorLogWorkerCopiesBatches(t *testing.T) {
	mr, rdb := newRedis(t)
	db := &fakeDB{}
	w := NewProctorLogWorker(db, rdb, fastRetry, zerolog.Nop())

	queue := config.WorkerKey.PersistProctorLogsQueue
	push(t, mr, queue, logFor(uuid.New(), "Tab switched or window minimized"))
	_, err := mr.Push(queue, "{not json")
	require.NoError(t, err)
	push(t, mr, queue, logFor(uuid.New(), "Copy attempted"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return db.copiedLen() == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Empty(t, queued(mr, queue))
	assert.Equal(t, "Tab switched or window minimized", db.copied[0][3])
	assert.Equal(t, "high", db.copied[0][4])
}

func TestWorkerFlushesBufferOnShutdown(t *testing.T) {
	mr, rdb := newRedis(t)
	db := &fakeDB{}
	w := NewProctorLogWorker(db, rdb, Options{BatchSize: 10, BatchTimeout: time.Hour}, zerolog.Nop())

	queue := config.WorkerKey.PersistProctorLogsQueue
	push(t, mr, queue, logFor(uuid.New(), "Right click attempted"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(queued(mr, queue)) == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, db.copiedLen(), "a partial batch waits for the timeout")

	cancel()
	<-done
	assert.Equal(t, 1, db.copiedLen())
}

// ─── Recovery ────────────────────────────────────────────────────────────────

func TestProctorLogFallbackRequeuesTransientFailures(t *testing.T) {
	mr, rdb := newRedis(t)

	flaky := uuid.New()
	orphan := uuid.New()
	db := &fakeDB{
		copyErr: errors.New("conn closed"),
		execErr: func(args []any) error {
			switch args[0] {
			case flaky:
				return errors.New("conn closed")
			case orphan:
				return &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}
			}
			return nil
		},
	}
	w := NewProctorLogWorker(db, rdb, fastRetry, zerolog.Nop())

	w.flushSafe(context.Background(), []model.ProctorLog{
		logFor(uuid.New(), "Paste attempted"),
		logFor(flaky, "Exited fullscreen mode"),
		logFor(orphan, "Developer tools shortcut"),
	})

	assert.Equal(t, 3, db.execCount())
	items := queued(mr, config.WorkerKey.PersistProctorLogsQueue)
	require.Len(t, items, 1)
	var back model.ProctorLog
	require.NoError(t, json.Unmarshal([]byte(items[0]), &back))
	assert.Equal(t, flaky, back.AttemptID)
}

func TestPermanentErrors(t *testing.T) {
	assert.True(t, permanent(&pgconn.PgError{Code: "23505"}))
	assert.True(t, permanent(&pgconn.PgError{Code: "22P02"}))
	assert.False(t, permanent(&pgconn.PgError{Code: "40001"}))
	assert.False(t, permanent(errors.New("dial tcp: connection refused")))
}

// ─── Progress ────────────────────────────────────────────────────────────────

func intp(n int) *int { return &n }

func TestProgressArgsKeepLatestPerQuestion(t *testing.T) {
	a := uuid.New()
	q1, q2 := uuid.New(), uuid.New()

	args := progressArgs([]model.ProgressJob{
		{AttemptID: a, CurrentQuestion: 0, TimeSpent: 10, Responses: []model.ResponseEntry{
			{QuestionID: q1, SelectedOption: intp(1), TimeSpent: 10},
		}},
		{AttemptID: a, CurrentQuestion: 1, TimeSpent: 25, Responses: []model.ResponseEntry{
			{QuestionID: q1, SelectedOption: intp(3), TimeSpent: 12},
			{QuestionID: q2, SelectedOption: nil, TimeSpent: 13},
		}},
	})
	require.Len(t, args, 7)

	assert.Equal(t, []uuid.UUID{a, a}, args[0])
	assert.Equal(t, []uuid.UUID{q1, q2}, args[1])
	selected := args[2].([]*int32)
	require.Len(t, selected, 2)
	assert.EqualValues(t, 3, *selected[0])
	assert.Nil(t, selected[1])
	assert.Equal(t, []int32{12, 13}, args[3])

	assert.Equal(t, []uuid.UUID{a}, args[4])
	assert.Equal(t, []int32{1}, args[5])
	assert.Equal(t, []int32{25}, args[6])
}

func TestProgressWorkerFallsBackPerJob(t *testing.T) {
	mr, rdb := newRedis(t)

	bad := uuid.New()
	db := &fakeDB{execErr: func(args []any) error {
		ids := args[4].([]uuid.UUID)
		for _, id := range ids {
			if id == bad {
				return errors.New("timeout")
			}
		}
		return nil
	}}
	w := NewProgressWorker(db, rdb, fastRetry, zerolog.Nop())

	w.flushSafe(context.Background(), []model.ProgressJob{
		{AttemptID: uuid.New(), TimeSpent: 5},
		{AttemptID: bad, TimeSpent: 9},
	})

	assert.Equal(t, 3, db.execCount(), "one bulk attempt then one per job")
	items := queued(mr, config.WorkerKey.PersistProgressQueue)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], bad.String())
}

// ─── Submissions ─────────────────────────────────────────────────────────────

func TestFinalizeArgsFirstSubmissionWins(t *testing.T) {
	a := uuid.New()
	q := uuid.New()
	finished := time.Unix(1700000500, 0).UTC()

	args := finalizeArgs([]model.SubmissionJob{
		{
			AttemptID: a, Status: model.AttemptStatusTerminated, Score: 40, WarningCount: 3,
			Reason: "Too many violations", TimeSpent: 300, FinishedAt: finished,
			Responses: []model.ResponseEntry{
				{QuestionID: q, SelectedOption: intp(0), TimeSpent: 4},
				{QuestionID: q, SelectedOption: intp(2), TimeSpent: 6},
			},
		},
		{AttemptID: a, Status: model.AttemptStatusSubmitted, Score: 90},
	})
	require.Len(t, args, 20)
	assert.Empty(t, args[11], "no ledger was submitted")

	assert.Equal(t, []uuid.UUID{a}, args[0])
	selected := args[2].([]*int32)
	require.Len(t, selected, 1)
	assert.EqualValues(t, 2, *selected[0], "the last entry for a question wins")

	assert.Equal(t, []uuid.UUID{a}, args[4])
	assert.Equal(t, []string{"TERMINATED"}, args[5])
	assert.Equal(t, []float64{40}, args[6])
	assert.Equal(t, []int32{3}, args[7])
	assert.Equal(t, []string{"Too many violations"}, args[8])
	assert.Equal(t, []int32{300}, args[9])
	assert.Equal(t, []time.Time{finished}, args[10])
}

func TestFinalizeArgsCarryTheSubmittedLedger(t *testing.T) {
	a, testID := uuid.New(), uuid.New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	tabSwitch := model.ActivityEntry{
		Timestamp: at, Activity: "Tab/window switch detected", Severity: "high",
		WarningCount: 1, QuestionIndex: 2, TimeLeft: 540,
	}

	args := finalizeArgs([]model.SubmissionJob{{
		AttemptID: a, TestID: testID, CandidateID: 7, Status: model.AttemptStatusTerminated,
		Activities: []model.ActivityEntry{
			tabSwitch,
			tabSwitch,
			{Timestamp: at.Add(time.Second), Activity: "Escape key pressed", Severity: "critical", WarningCount: 1},
		},
	}})
	require.Len(t, args, 20)

	assert.Equal(t, []uuid.UUID{a, a}, args[11])
	assert.Equal(t, []uuid.UUID{testID, testID}, args[12])
	assert.Equal(t, []int32{7, 7}, args[13])
	assert.Equal(t, []string{"Tab/window switch detected", "Escape key pressed"}, args[14])
	assert.Equal(t, []string{"high", "critical"}, args[15])
	assert.Equal(t, []int32{1, 1}, args[16])
	assert.Equal(t, []int32{2, 0}, args[17])
	assert.Equal(t, []int32{540, 0}, args[18])
	occurred := args[19].([]time.Time)
	require.Len(t, occurred, 2)
	assert.Equal(t, at.Truncate(time.Microsecond), occurred[0])
}

func TestSubmissionWorkerClearsAnswerBuffer(t *testing.T) {
	mr, rdb := newRedis(t)
	db := &fakeDB{}
	w := NewSubmissionWorker(db, rdb, fastRetry, zerolog.Nop())

	a := uuid.New()
	key := config.CacheKey.AttemptResponsesKey(a.String())
	mr.HSet(key, uuid.NewString(), "1")

	w.flushSafe(context.Background(), []model.SubmissionJob{{AttemptID: a, Status: model.AttemptStatusSubmitted}})

	assert.Equal(t, 1, db.execCount())
	assert.False(t, mr.Exists(key))
}

func TestSubmissionWorkerRequeuesOnOutage(t *testing.T) {
	mr, rdb := newRedis(t)
	db := &fakeDB{execErr: func([]any) error { return errors.New("connection refused") }}
	w := NewSubmissionWorker(db, rdb, fastRetry, zerolog.Nop())

	a := uuid.New()
	key := config.CacheKey.AttemptResponsesKey(a.String())
	mr.HSet(key, uuid.NewString(), "1")

	w.flushSafe(context.Background(), []model.SubmissionJob{{AttemptID: a, Status: model.AttemptStatusSubmitted}})

	assert.Len(t, queued(mr, config.WorkerKey.PersistSubmissionsQueue), 1)
	assert.True(t, mr.Exists(key), "the buffer survives until the attempt is finalized")
}
