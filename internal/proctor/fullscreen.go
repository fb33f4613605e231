package proctor

import "time"

const (
	msgFullscreenPoll   = "Fullscreen exit detected"
	msgFullscreenChange = "Attempted to exit full-screen"
	msgFullscreenFailed = "Failed to re-enter full-screen"
)

// fullscreenEnforcer re-requests full-screen whenever it is lost. The poll, the
// fullscreenchange handler and the resize handler all funnel through exited, which
// raises at most one violation per poll interval.
type fullscreenEnforcer struct {
	env      Environment
	interval time.Duration
	record   func(Violation)
	lastExit time.Time
}

func newFullscreenEnforcer(env Environment, interval time.Duration, record func(Violation)) *fullscreenEnforcer {
	return &fullscreenEnforcer{env: env, interval: interval, record: record}
}

func (f *fullscreenEnforcer) poll(now time.Time) {
	if f.env.IsFullscreen() {
		return
	}
	f.exited(now, msgFullscreenPoll)
}

func (f *fullscreenEnforcer) changed(now time.Time, fullscreen bool) {
	if fullscreen {
		return
	}
	f.exited(now, msgFullscreenChange)
}

func (f *fullscreenEnforcer) resized(now time.Time) {
	if f.env.IsFullscreen() {
		return
	}
	f.exited(now, msgFullscreenChange)
}

// denied handles a fullscreenerror reported by the adapter.
func (f *fullscreenEnforcer) denied() {
	f.record(Violation{Description: msgFullscreenFailed, Severity: SeverityHigh})
}

func (f *fullscreenEnforcer) exited(now time.Time, desc string) {
	if !f.lastExit.IsZero() && now.Sub(f.lastExit) < f.interval {
		return
	}
	f.lastExit = now

	err := f.env.RequestFullscreen()
	f.record(Violation{Description: desc, Severity: SeverityHigh})
	if err != nil {
		f.denied()
	}
}
