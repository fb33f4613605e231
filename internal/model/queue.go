package model

import (
	"time"

	"github.com/google/uuid"
)

// ProgressJob is queued on every progress save and upserted by the progress worker.
type ProgressJob struct {
	AttemptID       uuid.UUID       `json:"attempt_id"`
	Responses       []ResponseEntry `json:"responses"`
	CurrentQuestion int             `json:"current_question"`
	TimeSpent       int             `json:"time_spent"`
}

// SubmissionJob finalizes an attempt in PostgreSQL. Activities is the session's own
// ledger; entries the audit path already stored are skipped.
type SubmissionJob struct {
	AttemptID    uuid.UUID       `json:"attempt_id"`
	TestID       uuid.UUID       `json:"test_id"`
	CandidateID  int             `json:"candidate_id"`
	Status       AttemptStatus   `json:"status"`
	Score        float64         `json:"score"`
	WarningCount int             `json:"warning_count"`
	Reason       string          `json:"reason"`
	TimeSpent    int             `json:"time_spent"`
	Responses    []ResponseEntry `json:"responses"`
	Activities   []ActivityEntry `json:"activities,omitempty"`
	FinishedAt   time.Time       `json:"finished_at"`
}
