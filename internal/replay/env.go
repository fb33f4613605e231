package replay

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ErrNotListening is returned when a signal is emitted while no capture is installed.
var ErrNotListening = errors.New("capture listeners not installed")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// Environment is a scripted browser: state changes come from scenario steps and
// every command the session issues is recorded.
type Environment struct {
	mu sync.Mutex

	fullscreen     bool
	denyFullscreen bool
	fingerprint    proctor.Fingerprint
	metrics        proctor.WindowMetrics
	mediaDenied    bool
	face           bool
	noise          float64
	secondTab      bool
	lastBeat       time.Time

	listenCtx context.Context
	signals   chan proctor.Signal
	listening chan struct{}

	Commands Commands
}

// Commands counts what the session asked the browser to do.
type Commands struct {
	FullscreenRequests int
	FullscreenExits    int
	HistoryPushes      int
	Warnings           []string
	Handoff            *proctor.Handoff
}

var (
	_ proctor.Environment           = (*Environment)(nil)
	_ proctor.MediaDevices          = (*Environment)(nil)
	_ proctor.FacePresenceEstimator = (*Environment)(nil)
	_ proctor.NoiseLevelEstimator   = (*Environment)(nil)
)

// NewEnvironment builds the scripted browser for d.
func NewEnvironment(d Device) *Environment {
	fp := proctor.Fingerprint{
		ScreenWidth:  d.ScreenWidth,
		ScreenHeight: d.ScreenHeight,
		UserAgent:    d.UserAgent,
		Timezone:     d.Timezone,
		Locale:       d.Locale,
	}
	if fp.ScreenWidth == 0 {
		fp.ScreenWidth = 1920
	}
	if fp.ScreenHeight == 0 {
		fp.ScreenHeight = 1080
	}
	if fp.UserAgent == "" {
		fp.UserAgent = defaultUserAgent
	}
	if fp.Timezone == "" {
		fp.Timezone = "UTC"
	}
	if fp.Locale == "" {
		fp.Locale = "en-US"
	}
	noise := d.Noise
	if noise == 0 {
		noise = 40
	}

	e := &Environment{
		fullscreen:     true,
		denyFullscreen: d.DenyFullscreen,
		fingerprint:    fp,
		mediaDenied:    d.MediaDenied,
		face:           !d.FaceAbsent,
		noise:          noise,
		secondTab:      d.SecondTab,
		listening:      make(chan struct{}),
	}
	e.setDevtoolsGap(d.DevtoolsGap)
	return e
}

func (e *Environment) setDevtoolsGap(gap int) {
	w, h := e.fingerprint.ScreenWidth, e.fingerprint.ScreenHeight
	e.metrics = proctor.WindowMetrics{OuterWidth: w, OuterHeight: h, InnerWidth: w - gap, InnerHeight: h}
}

// ─── Scripted changes ────────────────────────────────────────────────────────

// Emit delivers a signal to the session, waiting briefly for capture to be installed.
func (e *Environment) Emit(ctx context.Context, sig proctor.Signal) error {
	select {
	case <-e.listening:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return ErrNotListening
	}

	e.mu.Lock()
	ch, lctx := e.signals, e.listenCtx
	e.mu.Unlock()
	if ch == nil {
		return ErrNotListening
	}
	if sig.At.IsZero() {
		sig.At = time.Now()
	}
	select {
	case ch <- sig:
		return nil
	case <-lctx.Done():
		return ErrNotListening
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetFullscreen changes the viewport state and reports the change.
func (e *Environment) SetFullscreen(ctx context.Context, on bool) error {
	e.mu.Lock()
	e.fullscreen = on
	e.mu.Unlock()
	return e.Emit(ctx, proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: on})
}

func (e *Environment) SetFace(present bool) {
	e.mu.Lock()
	e.face = present
	e.mu.Unlock()
}

func (e *Environment) SetNoise(level float64) {
	e.mu.Lock()
	e.noise = level
	e.mu.Unlock()
}

// SetDevtools opens or closes a docked devtools panel.
func (e *Environment) SetDevtools(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if open {
		e.setDevtoolsGap(400)
		return
	}
	e.setDevtoolsGap(0)
}

// Snapshot returns a copy of the recorded commands.
func (e *Environment) Snapshot() Commands {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.Commands
	c.Warnings = append([]string(nil), e.Commands.Warnings...)
	return c
}

// ─── proctor.Environment ─────────────────────────────────────────────────────

func (e *Environment) IsFullscreen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fullscreen
}

func (e *Environment) RequestFullscreen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands.FullscreenRequests++
	if e.denyFullscreen {
		return errors.New("fullscreen request denied")
	}
	e.fullscreen = true
	return nil
}

func (e *Environment) ExitFullscreen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands.FullscreenExits++
	e.fullscreen = false
	return nil
}

func (e *Environment) PushHistory() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands.HistoryPushes++
	return nil
}

func (e *Environment) Listen(ctx context.Context, _ proctor.Catalog) (<-chan proctor.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = make(chan proctor.Signal, 64)
	e.listenCtx = ctx
	select {
	case <-e.listening:
	default:
		close(e.listening)
	}
	return e.signals, nil
}

func (e *Environment) Fingerprint(context.Context) (proctor.Fingerprint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fingerprint, nil
}

func (e *Environment) WindowMetrics() (proctor.WindowMetrics, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics, true
}

// Heartbeat simulates the shared tab slot. A second tab writes just before us.
func (e *Environment) Heartbeat(now time.Time) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.lastBeat
	e.lastBeat = now
	if e.secondTab {
		prev = now.Add(-100 * time.Millisecond)
	}
	return prev, nil
}

func (e *Environment) ShowWarning(message string, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands.Warnings = append(e.Commands.Warnings, message)
	return nil
}

func (e *Environment) Navigate(h proctor.Handoff) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands.Handoff = &h
	return nil
}

// ─── Media and estimators ────────────────────────────────────────────────────

type stream struct{}

var blankFrame = image.NewRGBA(image.Rect(0, 0, 4, 4))

func (stream) Frame() (image.Image, bool) { return blankFrame, true }
func (stream) Audio() ([]float64, bool)   { return make([]float64, 256), true }
func (stream) Stop()                      {}

func (e *Environment) Open(context.Context, proctor.MediaConstraints) (proctor.MediaStream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mediaDenied {
		return nil, errors.New("permission denied")
	}
	return stream{}, nil
}

// FacePresent answers from the scripted camera state instead of the frame.
func (e *Environment) FacePresent(image.Image) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.face
}

// Level answers from the scripted microphone level instead of the samples.
func (e *Environment) Level([]float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.noise
}
