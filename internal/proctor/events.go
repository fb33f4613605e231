package proctor

import "time"

// Event is an input to Reduce.
type Event interface{ isEvent() }

type (
	// ShowInstructions moves a fresh session to the instructions screen.
	ShowInstructions struct{}
	// StartSucceeded is posted once the Test API issued an attempt.
	StartSucceeded struct {
		TestID    string
		AttemptID string
		Paper     TestPaper
		At        time.Time
		Carryover Carryover
	}
	// StartFailed is posted when the paper or start call failed.
	StartFailed struct{ Err error }
	// Tick is one second of the session clock.
	Tick struct{}
	// SelectOption answers a question.
	SelectOption struct{ Question, Option int }
	// ToggleMark flips the review mark of a question.
	ToggleMark struct{ Question int }
	// NavigateTo makes a question current.
	NavigateTo struct{ Question int }
	// RequestSubmit opens the submit confirmation.
	RequestSubmit struct{}
	// CancelSubmit closes the submit confirmation.
	CancelSubmit struct{}
	// ConfirmSubmit sends the manual submission.
	ConfirmSubmit struct{}
	// SubmitCompleted reports the outcome of a submission call.
	SubmitCompleted struct {
		Forced bool
		Err    error
	}
	// Record appends a violation to the ledger and applies the strike policy.
	Record struct {
		Violation Violation
		At        time.Time
	}
	// ForceSubmit terminates the session.
	ForceSubmit struct{ Reason string }
)

func (ShowInstructions) isEvent() {}
func (StartSucceeded) isEvent()   {}
func (StartFailed) isEvent()      {}
func (Tick) isEvent()             {}
func (SelectOption) isEvent()     {}
func (ToggleMark) isEvent()       {}
func (NavigateTo) isEvent()       {}
func (RequestSubmit) isEvent()    {}
func (CancelSubmit) isEvent()     {}
func (ConfirmSubmit) isEvent()    {}
func (SubmitCompleted) isEvent()  {}
func (Record) isEvent()           {}
func (ForceSubmit) isEvent()      {}

// Effect is a side effect requested by Reduce and executed by the Controller.
type Effect interface{ isEffect() }

type (
	// Activate enters full-screen and attaches the monitors.
	Activate struct{}
	// PersistProgress saves the answer snapshot, best effort.
	PersistProgress struct{ Payload ProgressPayload }
	// ForwardAudit sends a violation to the audit endpoint, best effort.
	ForwardAudit struct {
		AttemptID string
		Log       ActivityLog
	}
	// ShowWarning displays the transient warning banner.
	ShowWarning struct{ Message string }
	// SubmitAttempt delivers the final payload.
	SubmitAttempt struct {
		Payload SubmitPayload
		Forced  bool
	}
	// Teardown detaches every monitor, releases media and exits full-screen.
	Teardown struct{}
	// Complete hands the session off to the results view.
	Complete struct{ Handoff Handoff }
)

func (Activate) isEffect()        {}
func (PersistProgress) isEffect() {}
func (ForwardAudit) isEffect()    {}
func (ShowWarning) isEffect()     {}
func (SubmitAttempt) isEffect()   {}
func (Teardown) isEffect()        {}
func (Complete) isEffect()        {}
