package proctor

import "errors"

var (
	// ErrStartFailed is returned when the test paper or the start call fails.
	ErrStartFailed = errors.New("start test failed")
	// ErrSubmitFailed is returned when a manual submission could not be delivered.
	// The session stays in ConfirmingSubmit and the caller may retry.
	ErrSubmitFailed = errors.New("submit test failed")
	// ErrForceSubmitFailed is logged when a forced submission could not be delivered.
	// The session is still terminated locally.
	ErrForceSubmitFailed = errors.New("forced submit failed")
	// ErrProctoringSetup is returned by MediaDevices when camera or microphone is unavailable.
	ErrProctoringSetup = errors.New("proctoring setup failed")
	// ErrInvalidTransition is returned for an operation not allowed in the current status.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrInvalidQuestion is returned for an out-of-range question or option index.
	ErrInvalidQuestion = errors.New("invalid question or option")
	// ErrClosed is returned after the controller loop has exited.
	ErrClosed = errors.New("session controller closed")
)
