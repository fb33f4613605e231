package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrAttemptFinished   = errors.New("attempt already submitted")
	ErrAttemptInProgress = errors.New("attempt has not been submitted yet")
)

const (
	// attemptGrace keeps attempt keys alive past the test duration for late submits.
	attemptGrace = 30 * time.Minute
	resultTTL    = 24 * time.Hour
)

// AttemptStore is the persistence the attempt service reads from.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetOpen(ctx context.Context, testID uuid.UUID, candidateID int) (*model.Attempt, error)
	Create(ctx context.Context, testID uuid.UUID, candidateID int) (*model.Attempt, error)
}

// AttemptService runs the attempt lifecycle against Redis and queues persistence.
type AttemptService struct {
	store AttemptStore
	tests *TestService
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(store AttemptStore, tests *TestService, rdb *redis.Client, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		store: store,
		tests: tests,
		rdb:   rdb,
		log:   log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start opens an attempt. A candidate with an unfinished attempt gets it back.
func (s *AttemptService) Start(ctx context.Context, testID uuid.UUID, candidateID int) (*model.Attempt, error) {
	paper, err := s.tests.GetPaper(ctx, testID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.store.Create(ctx, testID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	attemptID := attempt.ID.String()
	if n, _ := s.rdb.Exists(ctx, config.CacheKey.AttemptResultKey(attemptID)).Result(); n > 0 {
		// Submitted, but the submission worker has not closed the row yet.
		return nil, ErrAttemptFinished
	}

	ttl := time.Duration(paper.Duration)*time.Minute + attemptGrace
	ownerKey := config.CacheKey.AttemptOwnerKey(attemptID)

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ActiveAttemptKey(testID.String(), candidateID), attemptID, ttl)
	pipe.HSet(ctx, ownerKey, "candidate_id", candidateID, "test_id", testID.String())
	pipe.Expire(ctx, ownerKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		// Lookups fall back to PostgreSQL.
		s.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Failed to cache attempt")
	}

	if err := publishMonitorEvent(ctx, s.rdb, testID, model.MonitorEvent{
		Type:        model.MonitorEventJoined,
		AttemptID:   attempt.ID,
		CandidateID: candidateID,
		Timestamp:   time.Now(),
	}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish join event")
	}

	s.log.Info().
		Str("attempt_id", attemptID).
		Str("test_id", testID.String()).
		Int("candidate_id", candidateID).
		Msg("Attempt started")
	return attempt, nil
}

// Owner returns the test and candidate an attempt belongs to.
func (s *AttemptService) Owner(ctx context.Context, attemptID uuid.UUID) (uuid.UUID, int, error) {
	owner, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptOwnerKey(attemptID.String())).Result()
	if err == nil && len(owner) == 2 {
		testID, terr := uuid.Parse(owner["test_id"])
		candidateID, cerr := strconv.Atoi(owner["candidate_id"])
		if terr == nil && cerr == nil {
			return testID, candidateID, nil
		}
	}

	attempt, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, 0, ErrAttemptNotFound
		}
		return uuid.Nil, 0, fmt.Errorf("get attempt: %w", err)
	}
	return attempt.TestID, attempt.CandidateID, nil
}

// Carryover returns the strikes and clock time an attempt has used so far. A
// reopened attempt continues from here instead of starting a fresh budget.
func (s *AttemptService) Carryover(ctx context.Context, attemptID uuid.UUID, candidateID int) (int, time.Duration, error) {
	attempt, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrAttemptNotFound
		}
		return 0, 0, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.CandidateID != candidateID {
		return 0, 0, ErrAttemptNotFound
	}

	strikes := attempt.WarningCount
	n, err := s.rdb.Get(ctx, config.CacheKey.AttemptWarningsKey(attemptID.String())).Int()
	switch {
	case err == nil:
		strikes = max(strikes, n)
	case !errors.Is(err, redis.Nil):
		return 0, 0, fmt.Errorf("get warnings: %w", err)
	}
	return strikes, max(time.Since(attempt.StartedAt), 0), nil
}

// resolve finds the open attempt of a candidate on a test.
func (s *AttemptService) resolve(ctx context.Context, testID uuid.UUID, candidateID int) (uuid.UUID, error) {
	val, err := s.rdb.Get(ctx, config.CacheKey.ActiveAttemptKey(testID.String(), candidateID)).Result()
	if err == nil {
		if id, perr := uuid.Parse(val); perr == nil {
			return id, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return uuid.Nil, fmt.Errorf("get active attempt: %w", err)
	}

	attempt, err := s.store.GetOpen(ctx, testID, candidateID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrAttemptNotFound
		}
		return uuid.Nil, fmt.Errorf("get open attempt: %w", err)
	}
	return attempt.ID, nil
}

func (s *AttemptService) finished(ctx context.Context, attemptID uuid.UUID) (bool, error) {
	n, err := s.rdb.Exists(ctx, config.CacheKey.AttemptResultKey(attemptID.String())).Result()
	if err != nil {
		return false, fmt.Errorf("check result: %w", err)
	}
	return n > 0, nil
}

// SaveProgress buffers the answers in Redis and queues them for persistence.
func (s *AttemptService) SaveProgress(ctx context.Context, testID uuid.UUID, candidateID int, req *model.ProgressRequest) error {
	attemptID, err := s.resolve(ctx, testID, candidateID)
	if err != nil {
		return err
	}
	done, err := s.finished(ctx, attemptID)
	if err != nil {
		return err
	}
	if done {
		return ErrAttemptFinished
	}

	job, err := json.Marshal(model.ProgressJob{
		AttemptID:       attemptID,
		Responses:       req.Responses,
		CurrentQuestion: req.CurrentQuestionIndex,
		TimeSpent:       req.TimeSpent,
	})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	responsesKey := config.CacheKey.AttemptResponsesKey(attemptID.String())
	pipe := s.rdb.Pipeline()
	for _, r := range req.Responses {
		if r.SelectedOption == nil {
			pipe.HDel(ctx, responsesKey, r.QuestionID.String())
			continue
		}
		pipe.HSet(ctx, responsesKey, r.QuestionID.String(), *r.SelectedOption)
	}
	pipe.Expire(ctx, responsesKey, resultTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistProgressQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer progress: %w", err)
	}
	return nil
}

// Submit grades the attempt in RAM, caches the result and queues finalization.
// Only the first submission of an attempt is accepted.
func (s *AttemptService) Submit(ctx context.Context, testID uuid.UUID, candidateID int, req *model.SubmitRequest) (*model.AttemptResult, error) {
	attemptID, err := s.resolve(ctx, testID, candidateID)
	if err != nil {
		return nil, err
	}

	answerKey, err := s.tests.GetAnswerKey(ctx, testID)
	if err != nil {
		return nil, err
	}

	buffered, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptResponsesKey(attemptID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get buffered responses: %w", err)
	}

	selections := make(map[string]int, len(buffered)+len(req.Responses))
	for qID, v := range buffered {
		if n, err := strconv.Atoi(v); err == nil {
			selections[qID] = n
		}
	}
	timeSpent := 0
	for _, r := range req.Responses {
		timeSpent += r.TimeSpent
		if r.SelectedOption == nil {
			delete(selections, r.QuestionID.String())
			continue
		}
		selections[r.QuestionID.String()] = *r.SelectedOption
	}

	correct, total, score := Grade(answerKey, selections)

	status := model.AttemptStatusSubmitted
	if req.Terminated {
		status = model.AttemptStatusTerminated
	}
	result := &model.AttemptResult{
		AttemptID:      attemptID,
		TestID:         testID,
		CandidateID:    candidateID,
		Status:         status,
		Terminated:     req.Terminated,
		Reason:         req.Reason,
		WarningCount:   req.WarningCount,
		Score:          score,
		Correct:        correct,
		Total:          total,
		TotalTimeSpent: timeSpent,
	}

	job, err := json.Marshal(model.SubmissionJob{
		AttemptID:    attemptID,
		TestID:       testID,
		CandidateID:  candidateID,
		Status:       status,
		Score:        score,
		WarningCount: req.WarningCount,
		Reason:       req.Reason,
		TimeSpent:    timeSpent,
		Responses:    req.Responses,
		Activities:   req.SuspiciousActivities,
		FinishedAt:   time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, config.CacheKey.AttemptResultKey(attemptID.String()), data, resultTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}
	if !ok {
		return nil, ErrAttemptFinished
	}

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, job)
	pipe.Del(ctx, config.CacheKey.ActiveAttemptKey(testID.String(), candidateID))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to queue submission")
	}

	if err := publishMonitorEvent(ctx, s.rdb, testID, model.MonitorEvent{
		Type:         model.MonitorEventSubmitted,
		AttemptID:    attemptID,
		CandidateID:  candidateID,
		WarningCount: req.WarningCount,
		Terminated:   req.Terminated,
		Timestamp:    time.Now(),
	}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish submit event")
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Float64("score", score).
		Int("correct", correct).
		Int("total", total).
		Bool("terminated", req.Terminated).
		Str("reason", req.Reason).
		Msg("Attempt submitted and graded")
	return result, nil
}

// Result returns the results view data of a candidate's finished attempt.
func (s *AttemptService) Result(ctx context.Context, attemptID uuid.UUID, candidateID int) (*model.AttemptResult, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.AttemptResultKey(attemptID.String())).Bytes()
	if err == nil {
		var result model.AttemptResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		if result.CandidateID != candidateID {
			return nil, ErrAttemptNotFound
		}
		return &result, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get result: %w", err)
	}

	attempt, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.CandidateID != candidateID {
		return nil, ErrAttemptNotFound
	}
	if attempt.Status == model.AttemptStatusInProgress {
		return nil, ErrAttemptInProgress
	}

	result := &model.AttemptResult{
		AttemptID:      attempt.ID,
		TestID:         attempt.TestID,
		CandidateID:    attempt.CandidateID,
		Status:         attempt.Status,
		Terminated:     attempt.Status == model.AttemptStatusTerminated,
		Reason:         attempt.Reason,
		WarningCount:   attempt.WarningCount,
		TotalTimeSpent: attempt.TimeSpent,
	}
	if attempt.Score != nil {
		result.Score = *attempt.Score
	}
	return result, nil
}

// Grade counts correct selections against the answer key. Score is a percentage.
func Grade(answerKey map[string]int, selections map[string]int) (correct, total int, score float64) {
	total = len(answerKey)
	for qID, want := range answerKey {
		if got, ok := selections[qID]; ok && got == want {
			correct++
		}
	}
	if total > 0 {
		score = float64(correct) / float64(total) * 100
	}
	return correct, total, score
}
