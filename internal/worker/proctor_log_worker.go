package worker

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var proctorLogColumns = []string{
	"attempt_id", "test_id", "candidate_id", "activity", "severity",
	"warning_count", "question_index", "time_left", "occurred_at",
}

// ProctorLogWorker drains the proctoring log queue into proctoring_logs.
type ProctorLogWorker struct {
	db DB
	c  *consumer[model.ProctorLog]
}

func NewProctorLogWorker(db DB, rdb *redis.Client, opts Options, log zerolog.Logger) *ProctorLogWorker {
	w := &ProctorLogWorker{db: db}
	w.c = &consumer[model.ProctorLog]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistProctorLogsQueue,
		opts:  opts.withDefaults(),
		flush: w.flushSafe,
		log:   log.With().Str("component", "proctor_log_worker").Logger(),
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *ProctorLogWorker) Start(ctx context.Context) { w.c.run(ctx) }

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ProctorLogWorker) flushSafe(ctx context.Context, batch []model.ProctorLog) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.c.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.c.log.Debug().Int("count", len(batch)).Msg("Proctoring logs persisted")
}

func logRow(l model.ProctorLog) []any {
	return []any{
		l.AttemptID, l.TestID, l.CandidateID, l.Entry.Activity, l.Entry.Severity,
		l.Entry.WarningCount, l.Entry.QuestionIndex, l.Entry.TimeLeft, l.Entry.Timestamp,
	}
}

func (w *ProctorLogWorker) bulkInsert(ctx context.Context, batch []model.ProctorLog) error {
	rows := make([][]any, 0, len(batch))
	for _, l := range batch {
		rows = append(rows, logRow(l))
	}
	_, err := w.db.CopyFrom(ctx, pgx.Identifier{"proctoring_logs"}, proctorLogColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *ProctorLogWorker) fallbackInsert(ctx context.Context, batch []model.ProctorLog) {
	var failed []model.ProctorLog
	for _, l := range batch {
		_, err := w.db.Exec(ctx,
			`INSERT INTO proctoring_logs (attempt_id, test_id, candidate_id, activity, severity,
			                              warning_count, question_index, time_left, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (attempt_id, occurred_at, activity) DO NOTHING`,
			logRow(l)...,
		)
		if err == nil {
			continue
		}
		if permanent(err) {
			w.c.log.Error().Err(err).Str("attempt_id", l.AttemptID.String()).Msg("Dropping proctoring log rejected by the database")
			continue
		}
		w.c.log.Error().Err(err).Str("attempt_id", l.AttemptID.String()).Msg("Insert failed, requeueing")
		failed = append(failed, l)
	}
	w.c.requeue(ctx, failed)
}
