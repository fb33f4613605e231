package model

import (
	"time"

	"github.com/google/uuid"
)

// ActivityEntry is one suspicious activity as reported by a session.
type ActivityEntry struct {
	Timestamp     time.Time `json:"timestamp" binding:"required"`
	Activity      string    `json:"activity" binding:"required,max=500"`
	Severity      string    `json:"severity" binding:"required,severity"`
	WarningCount  int       `json:"warningCount" binding:"min=0"`
	QuestionIndex int       `json:"questionIndex" binding:"min=0"`
	TimeLeft      int       `json:"timeLeft" binding:"min=0"`
}

// ProctorLog is a queued proctoring log row.
type ProctorLog struct {
	AttemptID   uuid.UUID     `json:"attempt_id"`
	TestID      uuid.UUID     `json:"test_id"`
	CandidateID int           `json:"candidate_id"`
	Entry       ActivityEntry `json:"entry"`
}

// MonitorEventType enumerates the events published on a test's monitor channel.
type MonitorEventType string

const (
	MonitorEventJoined    MonitorEventType = "joined"
	MonitorEventViolation MonitorEventType = "violation"
	MonitorEventSubmitted MonitorEventType = "submitted"
)

// MonitorEvent is published to proctors watching a test.
type MonitorEvent struct {
	Type         MonitorEventType `json:"type"`
	AttemptID    uuid.UUID        `json:"attempt_id"`
	CandidateID  int              `json:"candidate_id"`
	Activity     string           `json:"activity,omitempty"`
	Severity     string           `json:"severity,omitempty"`
	WarningCount int              `json:"warning_count"`
	Terminated   bool             `json:"terminated,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// MonitorRow is one attempt in the monitor snapshot.
type MonitorRow struct {
	AttemptID     uuid.UUID     `json:"attempt_id"`
	CandidateID   int           `json:"candidate_id"`
	Name          string        `json:"name"`
	Status        AttemptStatus `json:"status"`
	Answered      int64         `json:"answered"`
	ViolationLogs int64         `json:"violation_logs"`
	WarningCount  int           `json:"warning_count"`
	StartedAt     time.Time     `json:"started_at"`
}
