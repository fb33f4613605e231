package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMonitorStore struct {
	rows    []model.MonitorRow
	live    map[uuid.UUID]int
	liveErr error
}

func (f *fakeMonitorStore) ListAttempts(context.Context, uuid.UUID) ([]model.MonitorRow, error) {
	out := make([]model.MonitorRow, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeMonitorStore) LiveWarningCounts(context.Context, []uuid.UUID) (map[uuid.UUID]int, error) {
	return f.live, f.liveErr
}

func TestMonitorSnapshotOverlaysLiveCounts(t *testing.T) {
	tests := newFakeTestStore()
	test := tests.add(model.TestStatusPublished, 2)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	store := &fakeMonitorStore{
		rows: []model.MonitorRow{
			{AttemptID: a, Status: model.AttemptStatusInProgress, WarningCount: 0},
			{AttemptID: b, Status: model.AttemptStatusSubmitted, WarningCount: 1},
			{AttemptID: c, Status: model.AttemptStatusTerminated, WarningCount: 3},
		},
		live: map[uuid.UUID]int{a: 2, c: 1},
	}
	svc := NewMonitorService(store, tests)

	snap, err := svc.Snapshot(context.Background(), test.ID)
	require.NoError(t, err)
	assert.Equal(t, test.Title, snap.Test.Title)
	assert.Equal(t, 2, snap.Attempts[0].WarningCount)
	assert.Equal(t, 3, snap.Attempts[2].WarningCount, "persisted count is never lowered")
	assert.Equal(t, MonitorStats{
		TotalJoined:     3,
		TotalInProgress: 1,
		TotalSubmitted:  1,
		TotalTerminated: 1,
		TotalWarnings:   6,
	}, snap.Stats)
}

func TestMonitorSnapshotToleratesRedisFailure(t *testing.T) {
	tests := newFakeTestStore()
	test := tests.add(model.TestStatusPublished, 1)
	store := &fakeMonitorStore{
		rows:    []model.MonitorRow{{AttemptID: uuid.New(), WarningCount: 1}},
		liveErr: errors.New("connection refused"),
	}

	snap, err := NewMonitorService(store, tests).Snapshot(context.Background(), test.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Attempts[0].WarningCount)
}

func TestMonitorSnapshotUnknownTest(t *testing.T) {
	svc := NewMonitorService(&fakeMonitorStore{}, newFakeTestStore())
	_, err := svc.Snapshot(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrTestNotFound)
}
