package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorRepository provides data access for the live proctoring monitor.
// It combines PostgreSQL (attempt state) and Redis (live warning counters).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListAttempts returns every attempt of a test with answered and logged-violation counts.
func (r *MonitorRepository) ListAttempts(ctx context.Context, testID uuid.UUID) ([]model.MonitorRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.candidate_id, c.name, a.status, a.warning_count, a.started_at,
		        (SELECT COUNT(*) FROM attempt_responses ar
		          WHERE ar.attempt_id = a.id AND ar.selected_option IS NOT NULL),
		        (SELECT COUNT(*) FROM proctoring_logs pl WHERE pl.attempt_id = a.id)
		 FROM attempts a
		 JOIN candidates c ON c.id = a.candidate_id
		 WHERE a.test_id = $1
		 ORDER BY a.started_at`,
		testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MonitorRow
	for rows.Next() {
		var m model.MonitorRow
		if err := rows.Scan(&m.AttemptID, &m.CandidateID, &m.Name, &m.Status, &m.WarningCount,
			&m.StartedAt, &m.Answered, &m.ViolationLogs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LiveWarningCounts reads the Redis warning counters of the given attempts.
// Attempts without a counter are omitted.
func (r *MonitorRepository) LiveWarningCounts(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(attemptIDs))
	if len(attemptIDs) == 0 {
		return counts, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(attemptIDs))
	for i, id := range attemptIDs {
		cmds[i] = pipe.Get(ctx, config.CacheKey.AttemptWarningsKey(id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for i, cmd := range cmds {
		n, err := cmd.Int()
		if err != nil {
			continue
		}
		counts[attemptIDs[i]] = n
	}
	return counts, nil
}
