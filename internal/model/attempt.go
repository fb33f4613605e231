package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
	AttemptStatusTerminated AttemptStatus = "TERMINATED"
)

// Attempt represents one candidate's sitting of a test.
type Attempt struct {
	ID              uuid.UUID     `json:"id"`
	TestID          uuid.UUID     `json:"test_id"`
	CandidateID     int           `json:"candidate_id"`
	Status          AttemptStatus `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
	CurrentQuestion int           `json:"current_question"`
	TimeSpent       int           `json:"time_spent"`
	WarningCount    int           `json:"warning_count"`
	Score           *float64      `json:"score,omitempty"`
	Reason          string        `json:"reason,omitempty"`
}

// StartResponse is returned when an attempt is opened.
type StartResponse struct {
	AttemptID uuid.UUID `json:"attemptId"`
}

// ResponseEntry is one answered or unanswered question.
type ResponseEntry struct {
	QuestionID     uuid.UUID `json:"questionId" binding:"required"`
	SelectedOption *int      `json:"selectedOption" binding:"omitempty,min=0,max=9"`
	TimeSpent      int       `json:"timeSpent" binding:"min=0"`
}

// ProgressRequest is the payload of an incremental progress save.
type ProgressRequest struct {
	Responses            []ResponseEntry `json:"responses" binding:"dive"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex" binding:"min=0"`
	TimeSpent            int             `json:"timeSpent" binding:"min=0"`
}

// SubmitRequest is the final payload of a manual or forced submission.
type SubmitRequest struct {
	Responses            []ResponseEntry `json:"responses" binding:"dive"`
	SuspiciousActivities []ActivityEntry `json:"suspiciousActivities" binding:"max=1000,dive"`
	WarningCount         int             `json:"warningCount" binding:"min=0"`
	Terminated           bool            `json:"terminated"`
	Reason               string          `json:"reason" binding:"max=255"`
}

// AttemptResult is the data shown on the results view.
type AttemptResult struct {
	AttemptID      uuid.UUID     `json:"attemptId"`
	TestID         uuid.UUID     `json:"testId"`
	CandidateID    int           `json:"candidateId"`
	Status         AttemptStatus `json:"status"`
	Terminated     bool          `json:"terminated"`
	Reason         string        `json:"reason,omitempty"`
	WarningCount   int           `json:"warningCount"`
	Score          float64       `json:"score"`
	Correct        int           `json:"correct"`
	Total          int           `json:"total"`
	TotalTimeSpent int           `json:"totalTimeSpent"`
}
