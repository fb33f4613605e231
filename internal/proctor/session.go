package proctor

import "time"

// Session is the whole state of one proctored attempt. It is only ever changed by Reduce.
type Session struct {
	Status    Status
	TestID    string
	ExamID    string
	AttemptID string
	Title     string
	StartedAt time.Time

	DurationSeconds int
	TimeRemaining   int

	Questions []Question
	Current   int

	Ledger    Ledger
	Strikes   int
	Threshold int

	// Submitting guards against a second submission while one is in flight or done.
	Submitting bool
	Reason     string
	LastError  string
}

// NewSession creates a session that has not been started yet.
func NewSession(cfg Config) Session {
	threshold := cfg.StrikeThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return Session{
		Status:    StatusNotStarted,
		Ledger:    NewLedger(cfg.LedgerSize),
		Threshold: threshold,
	}
}

// Handoff builds the data carried to the results view.
func (s Session) Handoff() Handoff {
	h := Handoff{
		AttemptID:      s.AttemptID,
		TotalTimeSpent: s.Elapsed(),
	}
	if s.Status == StatusTerminated {
		h.Terminated = true
		h.Reason = s.Reason
	}
	if s.Strikes > 0 || s.Ledger.Len() > 0 {
		h.WarningCount = s.Strikes
		h.SuspiciousActivities = s.Ledger.Events()
	}
	return h
}

func (s Session) submitPayload(forced bool) SubmitPayload {
	p := SubmitPayload{
		Responses:            s.Snapshot(),
		SuspiciousActivities: s.Ledger.Events(),
		WarningCount:         s.Strikes,
	}
	if forced {
		p.Terminated = true
		p.Reason = s.Reason
	}
	return p
}
