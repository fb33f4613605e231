package proctor

import (
	"fmt"
	"time"
)

// Reduce applies ev to s and returns the next state together with the effects the
// controller must run. s is never modified in place.
func Reduce(s Session, ev Event) (Session, []Effect, error) {
	switch e := ev.(type) {
	case ShowInstructions:
		if s.Status != StatusNotStarted {
			return s, nil, invalid(s, "show instructions")
		}
		s.Status = StatusShowingInstructions
		return s, nil, nil

	case StartSucceeded:
		if s.Status != StatusNotStarted && s.Status != StatusShowingInstructions {
			return s, nil, invalid(s, "start")
		}
		s.TestID = e.TestID
		s.AttemptID = e.AttemptID
		s.ExamID = e.Paper.ExamID
		s.Title = e.Paper.Title
		s.StartedAt = e.At
		s.Questions = decorate(e.Paper.Questions)
		s.Current = 0
		s.DurationSeconds = e.Paper.DurationMinutes * 60
		s.TimeRemaining = max(s.DurationSeconds-int(e.Carryover.Elapsed/time.Second), 0)
		s.Strikes = max(e.Carryover.Strikes, 0)
		s.Status = StatusRunning
		s.LastError = ""
		return s, []Effect{Activate{}}, nil

	case StartFailed:
		if s.Status != StatusNotStarted && s.Status != StatusShowingInstructions {
			return s, nil, invalid(s, "start")
		}
		if e.Err != nil {
			s.LastError = e.Err.Error()
		}
		return s, nil, nil

	case Tick:
		return tick(s)

	case SelectOption:
		if s.Status != StatusRunning {
			return s, nil, invalid(s, "select option")
		}
		if !s.validQuestion(e.Question) || e.Option < 0 || e.Option >= len(s.Questions[e.Question].Options) {
			return s, nil, ErrInvalidQuestion
		}
		s.Questions = cloneQuestions(s.Questions)
		opt := e.Option
		s.Questions[e.Question].SelectedOption = &opt
		return s, []Effect{PersistProgress{Payload: s.progress()}}, nil

	case ToggleMark:
		if s.Status != StatusRunning {
			return s, nil, invalid(s, "toggle mark")
		}
		if !s.validQuestion(e.Question) {
			return s, nil, ErrInvalidQuestion
		}
		s.Questions = cloneQuestions(s.Questions)
		s.Questions[e.Question].Marked = !s.Questions[e.Question].Marked
		return s, nil, nil

	case NavigateTo:
		if s.Status != StatusRunning {
			return s, nil, invalid(s, "navigate")
		}
		if !s.validQuestion(e.Question) {
			return s, nil, ErrInvalidQuestion
		}
		s.Questions = cloneQuestions(s.Questions)
		s.Questions[e.Question].Visited = true
		s.Current = e.Question
		return s, nil, nil

	case RequestSubmit:
		if s.Status != StatusRunning {
			return s, nil, invalid(s, "request submit")
		}
		s.Status = StatusConfirmingSubmit
		return s, nil, nil

	case CancelSubmit:
		if s.Status != StatusConfirmingSubmit || s.Submitting {
			return s, nil, invalid(s, "cancel submit")
		}
		s.Status = StatusRunning
		return s, nil, nil

	case ConfirmSubmit:
		if s.Status != StatusConfirmingSubmit || s.Submitting {
			return s, nil, invalid(s, "confirm submit")
		}
		s.Submitting = true
		s.LastError = ""
		return s, []Effect{SubmitAttempt{Payload: s.submitPayload(false)}}, nil

	case SubmitCompleted:
		return submitCompleted(s, e)

	case Record:
		return record(s, e.Violation, e.At)

	case ForceSubmit:
		return forceSubmit(s, e.Reason)
	}
	return s, nil, fmt.Errorf("unknown event %T", ev)
}

func invalid(s Session, op string) error {
	return fmt.Errorf("%s from %s: %w", op, s.Status, ErrInvalidTransition)
}

// live reports whether the clock runs and signals count. The confirmation dialog stays
// live until the submission is in flight.
func (s Session) live() bool {
	return (s.Status == StatusRunning || s.Status == StatusConfirmingSubmit) && !s.Submitting
}

func tick(s Session) (Session, []Effect, error) {
	if !s.live() {
		return s, nil, nil
	}
	if s.TimeRemaining > 0 {
		s.TimeRemaining--
		if s.validQuestion(s.Current) {
			s.Questions = cloneQuestions(s.Questions)
			s.Questions[s.Current].TimeSpent++
		}
	}
	if s.TimeRemaining <= 0 {
		return forceSubmit(s, ReasonTimeExpired)
	}
	return s, nil, nil
}

// forceSubmit terminates a live session once. Later calls are no-ops.
func forceSubmit(s Session, reason string) (Session, []Effect, error) {
	if !s.live() {
		return s, nil, nil
	}
	s.Status = StatusTerminated
	s.Submitting = true
	s.Reason = reason
	return s, []Effect{
		Teardown{},
		SubmitAttempt{Payload: s.submitPayload(true), Forced: true},
	}, nil
}

func submitCompleted(s Session, e SubmitCompleted) (Session, []Effect, error) {
	if e.Forced {
		if s.Status != StatusTerminated {
			return s, nil, invalid(s, "complete forced submit")
		}
		if e.Err != nil {
			s.LastError = e.Err.Error()
		}
		return s, []Effect{Complete{Handoff: s.Handoff()}}, nil
	}

	if s.Status != StatusConfirmingSubmit || !s.Submitting {
		return s, nil, invalid(s, "complete submit")
	}
	if e.Err != nil {
		s.Submitting = false
		s.LastError = e.Err.Error()
		return s, nil, nil
	}
	s.Status = StatusSubmitted
	return s, []Effect{Teardown{}, Complete{Handoff: s.Handoff()}}, nil
}

// record is the single entry point of every signal source into the ledger.
func record(s Session, v Violation, at time.Time) (Session, []Effect, error) {
	if !s.live() {
		return s, nil, nil
	}

	critical := v.Severity == SeverityCritical
	strike := !critical && !v.Informational
	if strike {
		s.Strikes++
	}

	ev := ViolationEvent{
		Timestamp:     at,
		Description:   v.Description,
		Severity:      v.Severity,
		StrikeNumber:  s.Strikes,
		QuestionIndex: s.Current,
		TimeRemaining: s.TimeRemaining,
	}
	s.Ledger = s.Ledger.Append(ev)

	effects := []Effect{ForwardAudit{
		AttemptID: s.AttemptID,
		Log: ActivityLog{
			Timestamp:     ev.Timestamp,
			Activity:      ev.Description,
			Severity:      ev.Severity,
			WarningCount:  ev.StrikeNumber,
			QuestionIndex: ev.QuestionIndex,
			TimeLeft:      ev.TimeRemaining,
		},
	}}

	switch {
	case critical:
		effects = append(effects, ShowWarning{Message: v.Description})
		reason := v.Reason
		if reason == "" {
			reason = v.Description
		}
		next, more, _ := forceSubmit(s, reason)
		return next, append(effects, more...), nil
	case strike:
		effects = append(effects, ShowWarning{
			Message: fmt.Sprintf("Warning %d/%d: %s", s.Strikes, s.Threshold, v.Description),
		})
		if s.Strikes >= s.Threshold {
			next, more, _ := forceSubmit(s, ReasonStrikeThreshold)
			return next, append(effects, more...), nil
		}
	}
	return s, effects, nil
}
