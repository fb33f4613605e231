package proctor

import (
	"context"
	"image"
	"time"
)

const (
	msgSetupFailed     = "Proctoring setup failed - camera/mic access denied"
	msgNoFace          = "No face detected"
	msgHighNoise       = "High audio noise detected"
	msgMicDisconnected = "Microphone possibly disconnected"
)

// biometricMonitor evaluates camera frames and microphone windows.
type biometricMonitor struct {
	face      FacePresenceEstimator
	noise     NoiseLevelEstimator
	high, low float64
	record    func(Violation)

	micActive bool
}

func newBiometricMonitor(cfg Config, face FacePresenceEstimator, noise NoiseLevelEstimator, record func(Violation)) *biometricMonitor {
	return &biometricMonitor{
		face:   face,
		noise:  noise,
		high:   cfg.NoiseHighThreshold,
		low:    cfg.NoiseLowThreshold,
		record: record,
	}
}

func (m *biometricMonitor) checkFace(frame image.Image) {
	if !m.face.FacePresent(frame) {
		m.record(Violation{Description: msgNoFace, Severity: SeverityHigh})
	}
}

// checkAudio flags loud windows, and a silent window after the microphone was heard.
// A disconnect is reported once until the level recovers.
func (m *biometricMonitor) checkAudio(samples []float64) {
	level := m.noise.Level(samples)
	switch {
	case level > m.high:
		m.micActive = true
		m.record(Violation{Description: msgHighNoise, Severity: SeverityMedium})
	case level < m.low:
		if m.micActive {
			m.micActive = false
			m.record(Violation{Description: msgMicDisconnected, Severity: SeverityHigh})
		}
	default:
		m.micActive = true
	}
}

// runBiometrics opens the media stream after the settle delay and samples it until ctx is done.
func (c *Controller) runBiometrics(ctx context.Context) {
	if c.cfg.SettleDelay > 0 {
		settle := time.NewTimer(c.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			settle.Stop()
			return
		case <-settle.C:
		}
	}

	emit := func(v Violation) { c.emit(ctx, v) }
	log := c.log.With().Str("monitor", "biometric").Logger()

	var stream MediaStream
	if c.deps.Media != nil {
		s, err := c.deps.Media.Open(ctx, c.cfg.MediaConstraints)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Media unavailable, continuing with reduced monitoring")
			emit(Violation{Description: msgSetupFailed, Severity: SeverityHigh})
		} else {
			stream = s
			defer stream.Stop()
		}
	} else {
		emit(Violation{Description: msgSetupFailed, Severity: SeverityHigh})
	}

	if fp, err := c.deps.Env.Fingerprint(ctx); err != nil {
		log.Warn().Err(err).Msg("Environment fingerprint unavailable")
	} else {
		for _, v := range fingerprintViolations(fp, c.cfg) {
			emit(v)
		}
	}

	m := newBiometricMonitor(c.cfg, c.deps.Face, c.deps.Noise, emit)

	var faceC, audioC, snapC <-chan time.Time
	if stream != nil {
		face := time.NewTicker(c.cfg.FaceSampleInterval)
		defer face.Stop()
		audio := time.NewTicker(c.cfg.AudioSampleInterval)
		defer audio.Stop()
		faceC, audioC = face.C, audio.C
		if c.deps.Snapshots != nil {
			snap := time.NewTicker(c.cfg.SnapshotInterval)
			defer snap.Stop()
			snapC = snap.C
		}
	}
	envCheck := time.NewTicker(c.cfg.EnvCheckInterval)
	defer envCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-faceC:
			if frame, ok := stream.Frame(); ok {
				m.checkFace(frame)
			}

		case <-audioC:
			if samples, ok := stream.Audio(); ok {
				m.checkAudio(samples)
			}

		case <-envCheck.C:
			if metrics, ok := c.deps.Env.WindowMetrics(); ok && devtoolsOpen(metrics, c.cfg.DevtoolsGap) {
				emit(Violation{Description: msgDevtools, Severity: SeverityHigh})
			}
			now := c.deps.Now()
			prev, err := c.deps.Env.Heartbeat(now)
			if v, ok := heartbeatViolation(prev, now, err, c.cfg.HeartbeatWindow); ok {
				emit(v)
			}

		case <-snapC:
			frame, ok := stream.Frame()
			if !ok {
				continue
			}
			attemptID := c.Session().AttemptID
			if err := c.deps.Snapshots.Snapshot(ctx, attemptID, frame); err != nil {
				log.Debug().Err(err).Msg("Snapshot skipped")
			}
		}
	}
}
