package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SubmissionWorker finalizes graded attempts in PostgreSQL.
type SubmissionWorker struct {
	db  DB
	rdb *redis.Client
	c   *consumer[model.SubmissionJob]
}

func NewSubmissionWorker(db DB, rdb *redis.Client, opts Options, log zerolog.Logger) *SubmissionWorker {
	w := &SubmissionWorker{db: db, rdb: rdb}
	w.c = &consumer[model.SubmissionJob]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistSubmissionsQueue,
		opts:  opts.withDefaults(),
		flush: w.flushSafe,
		log:   log.With().Str("component", "submission_worker").Logger(),
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) { w.c.run(ctx) }

// finalizeSQL stores the submitted answers, adds ledger entries the audit path
// missed and closes the attempt in one statement. Attempts that are no longer
// open are left untouched.
const finalizeSQL = `
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
	), logs AS (
		INSERT INTO proctoring_logs (attempt_id, test_id, candidate_id, activity, severity,
		                             warning_count, question_index, time_left, occurred_at)
		SELECT l.*
		FROM UNNEST($12::uuid[], $13::uuid[], $14::int[], $15::text[], $16::text[],
		            $17::int[], $18::int[], $19::int[], $20::timestamptz[])
		     AS l (attempt_id, test_id, candidate_id, activity, severity,
		           warning_count, question_index, time_left, occurred_at)
		JOIN attempts a ON a.id = l.attempt_id AND a.status = 'IN_PROGRESS'
		ON CONFLICT (attempt_id, occurred_at, activity) DO NOTHING
	)
	UPDATE attempts AS a
	SET status = t.status,
	    score = t.score,
	    warning_count = t.warning_count,
	    reason = t.reason,
	    time_spent = t.time_spent,
	    finished_at = t.finished_at
	FROM UNNEST(
		$5::uuid[],
		$6::text[],
		$7::float8[],
		$8::int[],
		$9::text[],
		$10::int[],
		$11::timestamptz[]
	) AS t (attempt_id, status, score, warning_count, reason, time_spent, finished_at)
	WHERE a.id = t.attempt_id
	  AND a.status = 'IN_PROGRESS'
`

// finalizeArgs flattens jobs into UNNEST columns. The first job of an
// attempt wins, matching the one-submission rule of the API.
func finalizeArgs(batch []model.SubmissionJob) []any {
	n := len(batch)
	var (
		respAttempts  []uuid.UUID
		respQuestions []uuid.UUID
		selected      []*int32
		spent         []int32

		ledger logColumns

		ids        = make([]uuid.UUID, 0, n)
		statuses   = make([]string, 0, n)
		scores     = make([]float64, 0, n)
		warnings   = make([]int32, 0, n)
		reasons    = make([]string, 0, n)
		timeSpent  = make([]int32, 0, n)
		finishedAt = make([]time.Time, 0, n)
	)

	seen := make(map[uuid.UUID]bool, n)
	for _, job := range batch {
		if seen[job.AttemptID] {
			continue
		}
		seen[job.AttemptID] = true

		answered := make(map[uuid.UUID]bool, len(job.Responses))
		for i := len(job.Responses) - 1; i >= 0; i-- {
			r := job.Responses[i]
			if answered[r.QuestionID] {
				continue
			}
			answered[r.QuestionID] = true
			respAttempts = append(respAttempts, job.AttemptID)
			respQuestions = append(respQuestions, r.QuestionID)
			selected = append(selected, optionPtr(r.SelectedOption))
			spent = append(spent, int32(r.TimeSpent))
		}

		ledger.add(job)

		finished := job.FinishedAt
		if finished.IsZero() {
			finished = time.Now()
		}
		ids = append(ids, job.AttemptID)
		statuses = append(statuses, string(job.Status))
		scores = append(scores, job.Score)
		warnings = append(warnings, int32(job.WarningCount))
		reasons = append(reasons, job.Reason)
		timeSpent = append(timeSpent, int32(job.TimeSpent))
		finishedAt = append(finishedAt, finished)
	}

	return append([]any{
		respAttempts, respQuestions, selected, spent,
		ids, statuses, scores, warnings, reasons, timeSpent, finishedAt,
	}, ledger.args()...)
}

// logColumns collects a submission's ledger as UNNEST columns. Repeated entries
// within a job are sent once.
type logColumns struct {
	attempts   []uuid.UUID
	tests      []uuid.UUID
	candidates []int32
	activities []string
	severities []string
	warnings   []int32
	questions  []int32
	timeLeft   []int32
	occurredAt []time.Time
}

func (c *logColumns) add(job model.SubmissionJob) {
	type key struct {
		at       time.Time
		activity string
	}
	seen := make(map[key]bool, len(job.Activities))
	for _, e := range job.Activities {
		at := e.Timestamp.UTC().Truncate(time.Microsecond)
		k := key{at, e.Activity}
		if seen[k] {
			continue
		}
		seen[k] = true
		c.attempts = append(c.attempts, job.AttemptID)
		c.tests = append(c.tests, job.TestID)
		c.candidates = append(c.candidates, int32(job.CandidateID))
		c.activities = append(c.activities, e.Activity)
		c.severities = append(c.severities, e.Severity)
		c.warnings = append(c.warnings, int32(e.WarningCount))
		c.questions = append(c.questions, int32(e.QuestionIndex))
		c.timeLeft = append(c.timeLeft, int32(e.TimeLeft))
		c.occurredAt = append(c.occurredAt, at)
	}
}

func (c *logColumns) args() []any {
	return []any{
		c.attempts, c.tests, c.candidates, c.activities, c.severities,
		c.warnings, c.questions, c.timeLeft, c.occurredAt,
	}
}

func (w *SubmissionWorker) flushSafe(ctx context.Context, batch []model.SubmissionJob) {
	_, err := w.db.Exec(ctx, finalizeSQL, finalizeArgs(batch)...)
	if err == nil {
		w.c.log.Info().Int("count", len(batch)).Msg("Attempts finalized")
		w.clearBuffers(ctx, batch)
		return
	}
	w.c.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk finalize failed, using fallback")

	var failed []model.SubmissionJob
	for _, job := range batch {
		_, err := w.db.Exec(ctx, finalizeSQL, finalizeArgs([]model.SubmissionJob{job})...)
		if err == nil {
			w.clearBuffers(ctx, []model.SubmissionJob{job})
			continue
		}
		if permanent(err) {
			w.c.log.Error().Err(err).Str("attempt_id", job.AttemptID.String()).Msg("Dropping submission rejected by the database")
			continue
		}
		w.c.log.Error().Err(err).Str("attempt_id", job.AttemptID.String()).Msg("Finalize failed, requeueing")
		failed = append(failed, job)
	}
	w.c.requeue(ctx, failed)
}

// clearBuffers deletes the Redis answer buffers of finalized attempts.
func (w *SubmissionWorker) clearBuffers(ctx context.Context, batch []model.SubmissionJob) {
	pipe := w.rdb.Pipeline()
	for _, job := range batch {
		pipe.Del(ctx, config.CacheKey.AttemptResponsesKey(job.AttemptID.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.c.log.Warn().Err(err).Msg("Failed to clear answer buffers")
	}
}
