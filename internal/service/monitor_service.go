package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorStore provides attempt rows and live warning counters.
type MonitorStore interface {
	ListAttempts(ctx context.Context, testID uuid.UUID) ([]model.MonitorRow, error)
	LiveWarningCounts(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

// MonitorService orchestrates live test monitoring business logic.
type MonitorService struct {
	store MonitorStore
	tests TestStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(store MonitorStore, tests TestStore) *MonitorService {
	return &MonitorService{store: store, tests: tests}
}

// MonitorStats aggregates the attempts of a test.
type MonitorStats struct {
	TotalJoined     int `json:"total_joined"`
	TotalInProgress int `json:"total_in_progress"`
	TotalSubmitted  int `json:"total_submitted"`
	TotalTerminated int `json:"total_terminated"`
	TotalWarnings   int `json:"total_warnings"`
}

// MonitorSnapshot is the first event sent to a proctor.
type MonitorSnapshot struct {
	Test     *model.Test        `json:"test"`
	Stats    MonitorStats       `json:"stats"`
	Attempts []model.MonitorRow `json:"attempts"`
}

// Snapshot loads the test and its attempts concurrently.
func (s *MonitorService) Snapshot(ctx context.Context, testID uuid.UUID) (*MonitorSnapshot, error) {
	var (
		test    *model.Test
		rows    []model.MonitorRow
		testErr error
		rowsErr error
		wg      sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		test, testErr = s.tests.GetByID(ctx, testID)
	}()
	go func() {
		defer wg.Done()
		rows, rowsErr = s.Attempts(ctx, testID)
	}()
	wg.Wait()

	if testErr != nil {
		if errors.Is(testErr, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get test: %w", testErr)
	}
	if rowsErr != nil {
		return nil, rowsErr
	}

	return &MonitorSnapshot{Test: test, Stats: Summarize(rows), Attempts: rows}, nil
}

// Attempts returns every attempt of a test. Live Redis counters win over the
// persisted warning count, which lags until the submission worker runs.
func (s *MonitorService) Attempts(ctx context.Context, testID uuid.UUID) ([]model.MonitorRow, error) {
	rows, err := s.store.ListAttempts(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if rows == nil {
		rows = []model.MonitorRow{}
	}

	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.AttemptID
	}

	// Live counts are best-effort.
	if live, err := s.store.LiveWarningCounts(ctx, ids); err == nil {
		for i := range rows {
			if n, ok := live[rows[i].AttemptID]; ok && n > rows[i].WarningCount {
				rows[i].WarningCount = n
			}
		}
	}
	return rows, nil
}

// Summarize aggregates monitor rows into stats.
func Summarize(rows []model.MonitorRow) MonitorStats {
	stats := MonitorStats{TotalJoined: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case model.AttemptStatusInProgress:
			stats.TotalInProgress++
		case model.AttemptStatusSubmitted:
			stats.TotalSubmitted++
		case model.AttemptStatusTerminated:
			stats.TotalTerminated++
		}
		stats.TotalWarnings += r.WarningCount
	}
	return stats
}

// publishMonitorEvent pushes an event to the proctors watching a test.
func publishMonitorEvent(ctx context.Context, rdb *redis.Client, testID uuid.UUID, ev model.MonitorEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, config.CacheKey.TestMonitorChannel(testID.String()), payload).Err()
}
