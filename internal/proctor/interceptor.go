package proctor

import (
	"context"
	"fmt"
	"time"
)

const (
	msgTabSwitch       = "Tab/window switch detected"
	msgWindowBlur      = "Window focus lost"
	msgContextMenu     = "Right-click attempted"
	msgCopy            = "Copy attempted"
	msgPaste           = "Paste attempted"
	msgNavigation      = "Browser navigation attempted"
	msgZoom            = "Zoom attempted"
	msgRapidMouse      = "Rapid mouse movement detected"
	msgInactivity      = "Prolonged inactivity detected"
	msgKeyPressPattern = "Key pressed: %s"
)

// interceptor classifies the signals of the capture catalog.
type interceptor struct {
	cfg        Config
	env        Environment
	record     func(Violation)
	fullscreen *fullscreenEnforcer

	moves    int
	lastMove time.Time
}

func newInterceptor(cfg Config, env Environment, now time.Time, record func(Violation)) *interceptor {
	return &interceptor{
		cfg:        cfg,
		env:        env,
		record:     record,
		fullscreen: newFullscreenEnforcer(env, cfg.FullscreenPoll, record),
		lastMove:   now,
	}
}

func (in *interceptor) handle(sig Signal, now time.Time) {
	switch sig.Kind {
	case SignalKeyDown:
		if v, blocked := ClassifyKey(sig); blocked {
			in.record(v)
		}

	case SignalKeyPress:
		if _, blocked := ClassifyKey(sig); blocked {
			return
		}
		in.record(Violation{
			Description:   fmt.Sprintf(msgKeyPressPattern, NormalizeKey(sig.Key)),
			Severity:      SeverityLow,
			Informational: true,
		})

	case SignalVisibility:
		if sig.Hidden {
			in.record(Violation{Description: msgTabSwitch, Severity: SeverityHigh})
		}

	case SignalBlur:
		in.record(Violation{Description: msgWindowBlur, Severity: SeverityHigh})

	case SignalContextMenu:
		in.record(Violation{Description: msgContextMenu, Severity: SeverityHigh})

	case SignalCopy:
		in.record(Violation{Description: msgCopy, Severity: SeverityHigh})

	case SignalPaste:
		in.record(Violation{Description: msgPaste, Severity: SeverityHigh})

	case SignalPopState:
		_ = in.env.PushHistory()
		in.record(Violation{Description: msgNavigation, Severity: SeverityHigh})

	case SignalWheel:
		if sig.Ctrl || sig.Meta {
			in.record(Violation{Description: msgZoom, Severity: SeverityMedium})
		}

	case SignalResize:
		in.fullscreen.resized(now)

	case SignalFullscreenChange:
		in.fullscreen.changed(now, sig.Fullscreen)

	case SignalFullscreenError:
		in.fullscreen.denied()

	case SignalMouseMove:
		n := sig.Count
		if n <= 0 {
			n = 1
		}
		in.moves += n
		in.lastMove = now

	case SignalSelectStart, SignalDragStart:
		// cancelled by the adapter, nothing to record
	}
}

// sampleMouse runs on the mouse sampling interval.
func (in *interceptor) sampleMouse(now time.Time) {
	if in.moves > in.cfg.RapidMouseMoves {
		in.record(Violation{Description: msgRapidMouse, Severity: SeverityMedium, Informational: true})
	}
	if now.Sub(in.lastMove) > in.cfg.InactivityLimit {
		in.record(Violation{Description: msgInactivity, Severity: SeverityMedium, Informational: true})
	}
	in.moves = 0
}

// runSignals drives the interceptor and the full-screen poll from one goroutine.
func (c *Controller) runSignals(ctx context.Context) {
	signals, err := c.deps.Env.Listen(ctx, DefaultCatalog())
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to install capture listeners")
		signals = nil
	}

	in := newInterceptor(c.cfg, c.deps.Env, c.deps.Now(), func(v Violation) { c.emit(ctx, v) })

	poll := time.NewTicker(c.cfg.FullscreenPoll)
	defer poll.Stop()
	mouse := time.NewTicker(c.cfg.MouseSampleInterval)
	defer mouse.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			in.handle(sig, c.deps.Now())
		case <-poll.C:
			in.fullscreen.poll(c.deps.Now())
		case <-mouse.C:
			in.sampleMouse(c.deps.Now())
		}
	}
}
