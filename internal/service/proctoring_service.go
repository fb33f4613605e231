package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// heartbeatTTL bounds how long a tab slot survives a closed tab.
const heartbeatTTL = time.Minute

// ProctoringService ingests the audit trail of running sessions.
type ProctoringService struct {
	attempts    *AttemptService
	rdb         *redis.Client
	snapshotTTL time.Duration
	log         zerolog.Logger
}

// NewProctoringService creates a new ProctoringService.
func NewProctoringService(attempts *AttemptService, rdb *redis.Client, cfg *config.Config, log zerolog.Logger) *ProctoringService {
	return &ProctoringService{
		attempts:    attempts,
		rdb:         rdb,
		snapshotTTL: cfg.SnapshotTTL,
		log:         log.With().Str("component", "proctoring_service").Logger(),
	}
}

// LogActivity queues one suspicious activity for persistence, updates the live
// warning counter and notifies proctors watching the test.
func (s *ProctoringService) LogActivity(ctx context.Context, attemptID uuid.UUID, candidateID int, entry *model.ActivityEntry) error {
	testID, owner, err := s.attempts.Owner(ctx, attemptID)
	if err != nil {
		return err
	}
	if owner != candidateID {
		return ErrAttemptNotFound
	}

	raw, err := json.Marshal(model.ProctorLog{
		AttemptID:   attemptID,
		TestID:      testID,
		CandidateID: candidateID,
		Entry:       *entry,
	})
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistProctorLogsQueue, raw)
	pipe.Set(ctx, config.CacheKey.AttemptWarningsKey(attemptID.String()), entry.WarningCount, resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue log: %w", err)
	}

	if err := publishMonitorEvent(ctx, s.rdb, testID, model.MonitorEvent{
		Type:         model.MonitorEventViolation,
		AttemptID:    attemptID,
		CandidateID:  candidateID,
		Activity:     entry.Activity,
		Severity:     entry.Severity,
		WarningCount: entry.WarningCount,
		Timestamp:    entry.Timestamp,
	}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish violation event")
	}

	s.log.Debug().
		Str("attempt_id", attemptID.String()).
		Str("activity", entry.Activity).
		Str("severity", entry.Severity).
		Int("warning_count", entry.WarningCount).
		Msg("Activity logged")
	return nil
}

// SwapHeartbeat writes now into the candidate's tab slot for a test and returns
// the previous heartbeat. A zero time means the slot was empty.
func (s *ProctoringService) SwapHeartbeat(ctx context.Context, testID string, candidateID int, now time.Time) (time.Time, error) {
	prev, err := s.rdb.SetArgs(ctx, config.CacheKey.TabHeartbeatKey(testID, candidateID), now.UnixMilli(), redis.SetArgs{
		TTL: heartbeatTTL,
		Get: true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("swap heartbeat: %w", err)
	}

	ms, err := strconv.ParseInt(prev, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

// Snapshot stores a JPEG audit frame of an attempt for the configured TTL.
func (s *ProctoringService) Snapshot(ctx context.Context, attemptID string, frame image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 70}); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	key := config.CacheKey.SnapshotKey(attemptID, time.Now().Unix())
	if err := s.rdb.Set(ctx, key, buf.Bytes(), s.snapshotTTL).Err(); err != nil {
		return fmt.Errorf("store frame: %w", err)
	}
	return nil
}
