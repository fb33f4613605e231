package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Domain Errors
var (
	ErrTestNotFound = errors.New("test not found or not published")
	ErrNoQuestions  = errors.New("test has no questions")
)

// TestStore is the persistence the test service reads from.
type TestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error)
	ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error)
	ListQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error)
}

// TestService serves test papers and answer keys out of Redis.
type TestService struct {
	store TestStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(store TestStore, rdb *redis.Client, log zerolog.Logger) *TestService {
	return &TestService{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "test_service").Logger(),
	}
}

// WarmTestCache loads a test's paper and answer key from PostgreSQL into Redis.
func (s *TestService) WarmTestCache(ctx context.Context, test *model.Test) (*model.TestPaper, error) {
	questions, err := s.store.ListQuestions(ctx, test.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	paper := &model.TestPaper{
		ID:        test.ID,
		ExamID:    test.ExamID,
		Title:     test.Title,
		Duration:  test.DurationMinutes,
		Questions: make([]model.PaperQuestion, len(questions)),
	}
	answerKey := make(map[string]interface{}, len(questions))
	for i, q := range questions {
		paper.Questions[i] = model.PaperQuestion{ID: q.ID, Question: q.Prompt, Options: q.Options}
		answerKey[q.ID.String()] = q.CorrectOption
	}

	paperJSON, err := json.Marshal(paper)
	if err != nil {
		return nil, fmt.Errorf("marshal paper: %w", err)
	}

	testID := test.ID.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.TestPaperKey(testID), paperJSON, 0)
	pipe.Del(ctx, config.CacheKey.TestAnswerKey(testID))
	pipe.HSet(ctx, config.CacheKey.TestAnswerKey(testID), answerKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("test_id", testID).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return paper, nil
}

// PrewarmAllCaches loads all published tests into Redis on application startup.
func (s *TestService) PrewarmAllCaches(ctx context.Context) error {
	ids, err := s.store.ListPublishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list published tests: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No published tests to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming published tests...")

	warmed := 0
	for _, id := range ids {
		if _, err := s.warm(ctx, id); err != nil {
			s.log.Warn().
				Err(err).
				Str("test_id", id.String()).
				Msg("Failed to warm test, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

// warm loads a published test from the database and caches it.
func (s *TestService) warm(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error) {
	test, err := s.store.GetByID(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}
	if test.Status != model.TestStatusPublished {
		return nil, ErrTestNotFound
	}
	return s.WarmTestCache(ctx, test)
}

// GetPaper returns the candidate-facing paper, warming the cache on a miss.
func (s *TestService) GetPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.TestPaperKey(testID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.warm(ctx, testID)
	}
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}

	var paper model.TestPaper
	if err := json.Unmarshal(data, &paper); err != nil {
		return nil, fmt.Errorf("unmarshal paper: %w", err)
	}
	return &paper, nil
}

// GetAnswerKey returns question id → correct option index for RAM grading.
func (s *TestService) GetAnswerKey(ctx context.Context, testID uuid.UUID) (map[string]int, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.TestAnswerKey(testID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(raw) == 0 {
		if _, err := s.warm(ctx, testID); err != nil {
			return nil, err
		}
		if raw, err = s.rdb.HGetAll(ctx, config.CacheKey.TestAnswerKey(testID.String())).Result(); err != nil {
			return nil, fmt.Errorf("get answer key: %w", err)
		}
	}

	key := make(map[string]int, len(raw))
	for qID, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid answer for %s: %w", qID, err)
		}
		key[qID] = n
	}
	return key, nil
}
