package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProgressWorker upserts saved answers and the attempt cursor.
type ProgressWorker struct {
	db DB
	c  *consumer[model.ProgressJob]
}

func NewProgressWorker(db DB, rdb *redis.Client, opts Options, log zerolog.Logger) *ProgressWorker {
	w := &ProgressWorker{db: db}
	w.c = &consumer[model.ProgressJob]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistProgressQueue,
		opts:  opts.withDefaults(),
		flush: w.flushSafe,
		log:   log.With().Str("component", "progress_worker").Logger(),
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *ProgressWorker) Start(ctx context.Context) { w.c.run(ctx) }

// upsertProgressSQL writes responses and cursors of open attempts only.
// A finished attempt keeps the answers it was graded with.
const upsertProgressSQL = `
	WITH resp AS (
		INSERT INTO attempt_responses (attempt_id, question_id, selected_option, time_spent)
		SELECT u.attempt_id, u.question_id, u.selected_option, u.time_spent
		FROM UNNEST($1::uuid[], $2::uuid[], $3::int[], $4::int[])
		     AS u (attempt_id, question_id, selected_option, time_spent)
		JOIN attempts a ON a.id = u.attempt_id AND a.status = 'IN_PROGRESS'
		ON CONFLICT (attempt_id, question_id) DO UPDATE
		SET selected_option = EXCLUDED.selected_option,
		    time_spent = EXCLUDED.time_spent,
		    updated_at = NOW()
	)
	UPDATE attempts AS a
	SET current_question = t.current_question,
	    time_spent = t.time_spent
	FROM UNNEST($5::uuid[], $6::int[], $7::int[]) AS t (attempt_id, current_question, time_spent)
	WHERE a.id = t.attempt_id
	  AND a.status = 'IN_PROGRESS'
`

// progressArgs flattens jobs into UNNEST columns. Later jobs win per
// attempt and per question, so one statement never touches a row twice.
func progressArgs(batch []model.ProgressJob) []any {
	type key struct{ attempt, question uuid.UUID }
	latest := make(map[key]model.ResponseEntry)
	var order []key
	cursors := make(map[uuid.UUID]model.ProgressJob)
	var attempts []uuid.UUID

	for _, job := range batch {
		if _, seen := cursors[job.AttemptID]; !seen {
			attempts = append(attempts, job.AttemptID)
		}
		cursors[job.AttemptID] = job
		for _, r := range job.Responses {
			k := key{job.AttemptID, r.QuestionID}
			if _, seen := latest[k]; !seen {
				order = append(order, k)
			}
			latest[k] = r
		}
	}

	respAttempts := make([]uuid.UUID, 0, len(order))
	respQuestions := make([]uuid.UUID, 0, len(order))
	selected := make([]*int32, 0, len(order))
	spent := make([]int32, 0, len(order))
	for _, k := range order {
		r := latest[k]
		respAttempts = append(respAttempts, k.attempt)
		respQuestions = append(respQuestions, k.question)
		selected = append(selected, optionPtr(r.SelectedOption))
		spent = append(spent, int32(r.TimeSpent))
	}

	current := make([]int32, 0, len(attempts))
	total := make([]int32, 0, len(attempts))
	for _, id := range attempts {
		current = append(current, int32(cursors[id].CurrentQuestion))
		total = append(total, int32(cursors[id].TimeSpent))
	}

	return []any{respAttempts, respQuestions, selected, spent, attempts, current, total}
}

func optionPtr(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}

func (w *ProgressWorker) flushSafe(ctx context.Context, batch []model.ProgressJob) {
	_, err := w.db.Exec(ctx, upsertProgressSQL, progressArgs(batch)...)
	if err == nil {
		w.c.log.Debug().Int("count", len(batch)).Msg("Progress persisted")
		return
	}
	w.c.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk progress upsert failed, using fallback")

	var failed []model.ProgressJob
	for _, job := range batch {
		_, err := w.db.Exec(ctx, upsertProgressSQL, progressArgs([]model.ProgressJob{job})...)
		if err == nil {
			continue
		}
		if permanent(err) {
			w.c.log.Error().Err(err).Str("attempt_id", job.AttemptID.String()).Msg("Dropping progress rejected by the database")
			continue
		}
		w.c.log.Error().Err(err).Str("attempt_id", job.AttemptID.String()).Msg("Progress upsert failed, requeueing")
		failed = append(failed, job)
	}
	w.c.requeue(ctx, failed)
}
