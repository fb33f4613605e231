package websocket

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	// Environment reports from the browser shell.
	ActionSignal      Action = "signal"
	ActionFullscreen  Action = "fullscreen"
	ActionMetrics     Action = "metrics"
	ActionFingerprint Action = "fingerprint"
	ActionFrame       Action = "frame"
	ActionAudio       Action = "audio"
	ActionMediaReady  Action = "media_ready"
	ActionMediaError  Action = "media_error"
	ActionPing        Action = "ping"

	// Candidate controls.
	ActionShowInstructions Action = "show_instructions"
	ActionStart            Action = "start"
	ActionSelectOption     Action = "select_option"
	ActionToggleMark       Action = "toggle_mark"
	ActionNavigate         Action = "navigate"
	ActionRequestSubmit    Action = "request_submit"
	ActionCancelSubmit     Action = "cancel_submit"
	ActionConfirmSubmit    Action = "confirm_submit"
)

// IsControl reports whether the action is a candidate control rather than an environment report.
func (a Action) IsControl() bool {
	switch a {
	case ActionShowInstructions, ActionStart, ActionSelectOption, ActionToggleMark,
		ActionNavigate, ActionRequestSubmit, ActionCancelSubmit, ActionConfirmSubmit:
		return true
	}
	return false
}

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SignalRequest forwards one DOM event.
type SignalRequest struct {
	Action Action         `json:"action"`
	Signal proctor.Signal `json:"signal"`
}

// FullscreenRequest reports the current full-screen state.
type FullscreenRequest struct {
	Action Action `json:"action"`
	Active bool   `json:"active"`
}

// MetricsRequest reports outer and inner window dimensions.
type MetricsRequest struct {
	Action  Action                `json:"action"`
	Metrics proctor.WindowMetrics `json:"metrics"`
}

// FingerprintRequest answers a fingerprint command.
type FingerprintRequest struct {
	Action      Action              `json:"action"`
	Fingerprint proctor.Fingerprint `json:"fingerprint"`
}

// FrameRequest carries one camera frame as base64 JPEG.
type FrameRequest struct {
	Action Action `json:"action"`
	Data   string `json:"data" binding:"required,max=2000000"`
}

// AudioRequest carries one microphone window of time-domain samples in [-1, 1].
type AudioRequest struct {
	Action  Action    `json:"action"`
	Samples []float64 `json:"samples" binding:"required,max=32768,dive,min=-1,max=1"`
}

// MediaErrorRequest reports that getUserMedia was rejected.
type MediaErrorRequest struct {
	Action Action `json:"action"`
	Error  string `json:"error"`
}

// ControlRequest is any candidate control. Question and Option are used by the
// question-scoped actions only.
type ControlRequest struct {
	Action   Action `json:"action"`
	Question int    `json:"question" binding:"min=0"`
	Option   int    `json:"option" binding:"min=0"`
}

// ─── Commands (Server → Client) ─────────────────────────────────────

type Command string

const (
	CommandRequestFullscreen Command = "request_fullscreen"
	CommandExitFullscreen    Command = "exit_fullscreen"
	CommandPushHistory       Command = "push_history"
	CommandShowWarning       Command = "show_warning"
	CommandNavigate          Command = "navigate"
	CommandListen            Command = "listen"
	CommandUnlisten          Command = "unlisten"
	CommandMediaRequest      Command = "media_request"
	CommandMediaStop         Command = "media_stop"
	CommandFingerprint       Command = "fingerprint"
)

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventCommand       Event = "command"
	EventState         Event = "state"
	EventSubmitSummary Event = "submit_summary"
	EventStarted       Event = "started"
	EventError         Event = "error"
	EventPong          Event = "pong"
)

type CommandResponse struct {
	Event   Event   `json:"event"`
	ID      int64   `json:"id"`
	Command Command `json:"command"`
	Payload any     `json:"payload,omitempty"`
}

// WarningPayload is the payload of a show_warning command.
type WarningPayload struct {
	Message    string `json:"message"`
	DurationMs int64  `json:"duration_ms"`
}

// StateResponse mirrors the session for rendering.
type StateResponse struct {
	Event         Event              `json:"event"`
	Status        proctor.Status     `json:"status"`
	TestID        string             `json:"test_id,omitempty"`
	AttemptID     string             `json:"attempt_id,omitempty"`
	Title         string             `json:"title,omitempty"`
	TimeRemaining int                `json:"time_remaining"`
	Current       int                `json:"current"`
	Strikes       int                `json:"strikes"`
	Threshold     int                `json:"threshold"`
	Submitting    bool               `json:"submitting"`
	LastError     string             `json:"last_error,omitempty"`
	Questions     []proctor.Question `json:"questions"`
}

// NewStateResponse copies the renderable part of s.
func NewStateResponse(s proctor.Session) StateResponse {
	return StateResponse{
		Event:         EventState,
		Status:        s.Status,
		TestID:        s.TestID,
		AttemptID:     s.AttemptID,
		Title:         s.Title,
		TimeRemaining: s.TimeRemaining,
		Current:       s.Current,
		Strikes:       s.Strikes,
		Threshold:     s.Threshold,
		Submitting:    s.Submitting,
		LastError:     s.LastError,
		Questions:     s.Questions,
	}
}

type StartedResponse struct {
	Event     Event  `json:"event"`
	AttemptID string `json:"attempt_id"`
}

type SubmitSummaryResponse struct {
	Event   Event                 `json:"event"`
	Summary proctor.SubmitSummary `json:"summary"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event     `json:"event"`
	At    time.Time `json:"at"`
}
