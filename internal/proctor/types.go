package proctor

import (
	"time"
)

// Status enumerates the lifecycle states of a proctored session.
type Status string

const (
	StatusNotStarted          Status = "NOT_STARTED"
	StatusShowingInstructions Status = "SHOWING_INSTRUCTIONS"
	StatusRunning             Status = "RUNNING"
	StatusConfirmingSubmit    Status = "CONFIRMING_SUBMIT"
	StatusSubmitted           Status = "SUBMITTED"
	StatusTerminated          Status = "TERMINATED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSubmitted || s == StatusTerminated
}

// Severity classifies a violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Termination reasons sent with a forced submission.
const (
	ReasonTimeExpired     = "time expired"
	ReasonEscapePressed   = "escape key pressed"
	ReasonStrikeThreshold = "maximum violations reached"
)

// Question is one test item decorated with session-local response state.
type Question struct {
	ID             string   `json:"question_id"`
	Index          int      `json:"index"`
	Prompt         string   `json:"prompt"`
	Options        []string `json:"options"`
	SelectedOption *int     `json:"selected_option"`
	Marked         bool     `json:"marked"`
	Visited        bool     `json:"visited"`
	TimeSpent      int      `json:"time_spent"`
}

// Answered reports whether an option is selected.
func (q Question) Answered() bool { return q.SelectedOption != nil }

// ViolationEvent is one classified suspicious occurrence. Immutable once appended.
type ViolationEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Description   string    `json:"activity"`
	Severity      Severity  `json:"severity"`
	StrikeNumber  int       `json:"warningCount"`
	QuestionIndex int       `json:"questionIndex"`
	TimeRemaining int       `json:"timeLeft"`
}

// Violation is what a signal source reports into the ledger.
type Violation struct {
	Description string
	Severity    Severity
	// Informational entries are audited but never count as a strike or raise a banner.
	Informational bool
	// Reason is used when a critical violation terminates the session.
	Reason string
}

// TestPaper is the test metadata returned by the Test API.
type TestPaper struct {
	ID              string
	ExamID          string
	Title           string
	DurationMinutes int
	Questions       []PaperQuestion
}

// PaperQuestion is a question as delivered by the Test API.
type PaperQuestion struct {
	ID      string   `json:"_id"`
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
}

// Response is one entry of the submitted answer snapshot.
type Response struct {
	QuestionID     string `json:"questionId"`
	SelectedOption *int   `json:"selectedOption"`
	TimeSpent      int    `json:"timeSpent"`
}

// ProgressPayload is persisted after every answer change.
type ProgressPayload struct {
	Responses            []Response `json:"responses"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	TimeSpent            int        `json:"timeSpent"`
}

// SubmitPayload is sent on manual and forced submission.
type SubmitPayload struct {
	Responses            []Response       `json:"responses"`
	SuspiciousActivities []ViolationEvent `json:"suspiciousActivities"`
	WarningCount         int              `json:"warningCount"`
	Terminated           bool             `json:"terminated,omitempty"`
	Reason               string           `json:"reason,omitempty"`
}

// ActivityLog is forwarded to the audit endpoint for every violation.
type ActivityLog struct {
	Timestamp     time.Time `json:"timestamp"`
	Activity      string    `json:"activity"`
	Severity      Severity  `json:"severity"`
	WarningCount  int       `json:"warningCount"`
	QuestionIndex int       `json:"questionIndex"`
	TimeLeft      int       `json:"timeLeft"`
}

// Handoff is carried to the results view on completion.
type Handoff struct {
	AttemptID            string           `json:"attemptId"`
	Terminated           bool             `json:"terminated,omitempty"`
	WarningCount         int              `json:"warningCount,omitempty"`
	SuspiciousActivities []ViolationEvent `json:"suspiciousActivities,omitempty"`
	TotalTimeSpent       int              `json:"totalTimeSpent,omitempty"`
	Reason               string           `json:"reason,omitempty"`
}

// SubmitSummary is shown while confirming a manual submission.
type SubmitSummary struct {
	Answered   int `json:"answered"`
	Marked     int `json:"marked"`
	Unanswered int `json:"unanswered"`
}
