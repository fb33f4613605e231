package proctor

import (
	"context"
	"image"
	"time"
)

// SignalKind names a browser event forwarded by the environment adapter.
type SignalKind string

const (
	SignalKeyDown          SignalKind = "keydown"
	SignalKeyPress         SignalKind = "keypress"
	SignalContextMenu      SignalKind = "contextmenu"
	SignalVisibility       SignalKind = "visibilitychange"
	SignalSelectStart      SignalKind = "selectstart"
	SignalDragStart        SignalKind = "dragstart"
	SignalCopy             SignalKind = "copy"
	SignalPaste            SignalKind = "paste"
	SignalWheel            SignalKind = "wheel"
	SignalPopState         SignalKind = "popstate"
	SignalBlur             SignalKind = "blur"
	SignalResize           SignalKind = "resize"
	SignalFullscreenChange SignalKind = "fullscreenchange"
	SignalFullscreenError  SignalKind = "fullscreenerror"
	SignalMouseMove        SignalKind = "mousemove"
)

// Signal is one event observed by the environment adapter.
type Signal struct {
	Kind  SignalKind `json:"kind"`
	Key   string     `json:"key,omitempty"`
	Ctrl  bool       `json:"ctrl,omitempty"`
	Meta  bool       `json:"meta,omitempty"`
	Alt   bool       `json:"alt,omitempty"`
	Shift bool       `json:"shift,omitempty"`
	// Hidden is the document visibility after a visibilitychange.
	Hidden bool `json:"hidden,omitempty"`
	// Fullscreen is the viewport state after a fullscreenchange.
	Fullscreen bool `json:"fullscreen,omitempty"`
	// Count is the number of mouse moves folded into one mousemove signal.
	Count int       `json:"count,omitempty"`
	At    time.Time `json:"at"`
}

// Catalog tells the adapter which events to cancel and which keys to veto locally.
type Catalog struct {
	Prevent []SignalKind `json:"prevent"`
	Observe []SignalKind `json:"observe"`
	Keys    []KeyRule    `json:"keys"`
}

// DefaultCatalog is the capture list installed while a session is running.
func DefaultCatalog() Catalog {
	return Catalog{
		Prevent: []SignalKind{
			SignalKeyDown, SignalKeyPress, SignalContextMenu, SignalVisibility,
			SignalSelectStart, SignalDragStart, SignalCopy, SignalPaste,
			SignalWheel, SignalPopState, SignalBlur, SignalResize,
		},
		Observe: []SignalKind{SignalFullscreenChange, SignalFullscreenError, SignalMouseMove},
		Keys:    BlockedKeys(),
	}
}

// Fingerprint describes the runtime the candidate is using.
type Fingerprint struct {
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	UserAgent    string `json:"user_agent"`
	Timezone     string `json:"timezone"`
	Locale       string `json:"locale"`
}

// WindowMetrics are the outer and inner window dimensions.
type WindowMetrics struct {
	OuterWidth  int `json:"outer_width"`
	OuterHeight int `json:"outer_height"`
	InnerWidth  int `json:"inner_width"`
	InnerHeight int `json:"inner_height"`
}

// Environment abstracts the browser globals the session depends on.
type Environment interface {
	IsFullscreen() bool
	RequestFullscreen() error
	ExitFullscreen() error
	// PushHistory re-pushes the current URL so back/forward navigation is neutralized.
	PushHistory() error
	// Listen installs the catalog and streams observed signals until ctx is done.
	Listen(ctx context.Context, catalog Catalog) (<-chan Signal, error)
	Fingerprint(ctx context.Context) (Fingerprint, error)
	WindowMetrics() (WindowMetrics, bool)
	// Heartbeat writes now into the tab slot and returns the previous value.
	Heartbeat(now time.Time) (time.Time, error)
	ShowWarning(message string, d time.Duration) error
	Navigate(h Handoff) error
}

// MediaDevices opens the camera and microphone.
type MediaDevices interface {
	Open(ctx context.Context, c MediaConstraints) (MediaStream, error)
}

// MediaStream exposes the latest camera frame and microphone window.
type MediaStream interface {
	Frame() (image.Image, bool)
	// Audio returns the latest time-domain samples in [-1, 1].
	Audio() ([]float64, bool)
	Stop()
}

// Snapshotter stores periodic audit frames.
type Snapshotter interface {
	Snapshot(ctx context.Context, attemptID string, frame image.Image) error
}

// TestAPI is the remote test service.
type TestAPI interface {
	GetTest(ctx context.Context, testID string) (TestPaper, error)
	StartTest(ctx context.Context, testID string) (string, error)
	SaveProgress(ctx context.Context, testID string, p ProgressPayload) error
	SubmitTest(ctx context.Context, testID string, p SubmitPayload) error
	LogActivity(ctx context.Context, attemptID string, l ActivityLog) error
}

// AttemptResumer is implemented by Test APIs that know what a reopened attempt has
// already consumed. Start seeds the session from it so a reload keeps strikes and time.
type AttemptResumer interface {
	Carryover(ctx context.Context, attemptID string) (Carryover, error)
}

// Carryover is the strike count and clock time an attempt used before this session.
type Carryover struct {
	Strikes int
	Elapsed time.Duration
}
