package proctor

import "time"

// Config holds the thresholds and intervals of a proctored session.
type Config struct {
	StrikeThreshold int
	LedgerSize      int
	TickInterval    time.Duration
	SettleDelay     time.Duration
	WarningDuration time.Duration

	FullscreenPoll time.Duration

	MouseSampleInterval time.Duration
	RapidMouseMoves     int
	InactivityLimit     time.Duration

	FaceSampleInterval  time.Duration
	SkinRatioThreshold  float64
	AudioSampleInterval time.Duration
	NoiseHighThreshold  float64
	NoiseLowThreshold   float64

	EnvCheckInterval time.Duration
	DevtoolsGap      int
	HeartbeatWindow  time.Duration
	MinScreenWidth   int
	MinScreenHeight  int
	SuspiciousAgents []string
	SnapshotInterval time.Duration
	APITimeout       time.Duration
	MediaConstraints MediaConstraints
}

// MediaConstraints describes the camera and microphone request.
type MediaConstraints struct {
	VideoWidth       int    `json:"video_width"`
	VideoHeight      int    `json:"video_height"`
	FacingMode       string `json:"facing_mode"`
	EchoCancellation bool   `json:"echo_cancellation"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		StrikeThreshold: 3,
		LedgerSize:      100,
		TickInterval:    time.Second,
		SettleDelay:     time.Second,
		WarningDuration: 5 * time.Second,

		FullscreenPoll: time.Second,

		MouseSampleInterval: 10 * time.Second,
		RapidMouseMoves:     1000,
		InactivityLimit:     30 * time.Second,

		FaceSampleInterval:  2 * time.Second,
		SkinRatioThreshold:  0.10,
		AudioSampleInterval: time.Second,
		NoiseHighThreshold:  80,
		NoiseLowThreshold:   10,

		EnvCheckInterval: 5 * time.Second,
		DevtoolsGap:      160,
		HeartbeatWindow:  time.Second,
		MinScreenWidth:   1024,
		MinScreenHeight:  768,
		SuspiciousAgents: []string{"vmware", "virtualbox", "x11", "remote", "teamviewer", "anydesk"},
		SnapshotInterval: 30 * time.Second,
		APITimeout:       15 * time.Second,
		MediaConstraints: MediaConstraints{
			VideoWidth:       1280,
			VideoHeight:      720,
			FacingMode:       "user",
			EchoCancellation: true,
		},
	}
}

// withDefaults fills every zero field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StrikeThreshold <= 0 {
		c.StrikeThreshold = d.StrikeThreshold
	}
	if c.LedgerSize <= 0 {
		c.LedgerSize = d.LedgerSize
	}
	durations := []struct{ v, def *time.Duration }{
		{&c.TickInterval, &d.TickInterval},
		{&c.WarningDuration, &d.WarningDuration},
		{&c.FullscreenPoll, &d.FullscreenPoll},
		{&c.MouseSampleInterval, &d.MouseSampleInterval},
		{&c.InactivityLimit, &d.InactivityLimit},
		{&c.FaceSampleInterval, &d.FaceSampleInterval},
		{&c.AudioSampleInterval, &d.AudioSampleInterval},
		{&c.EnvCheckInterval, &d.EnvCheckInterval},
		{&c.HeartbeatWindow, &d.HeartbeatWindow},
		{&c.SnapshotInterval, &d.SnapshotInterval},
		{&c.APITimeout, &d.APITimeout},
	}
	for _, f := range durations {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.RapidMouseMoves <= 0 {
		c.RapidMouseMoves = d.RapidMouseMoves
	}
	if c.SkinRatioThreshold <= 0 {
		c.SkinRatioThreshold = d.SkinRatioThreshold
	}
	if c.NoiseHighThreshold <= 0 {
		c.NoiseHighThreshold = d.NoiseHighThreshold
	}
	if c.NoiseLowThreshold <= 0 {
		c.NoiseLowThreshold = d.NoiseLowThreshold
	}
	if c.DevtoolsGap <= 0 {
		c.DevtoolsGap = d.DevtoolsGap
	}
	if c.MinScreenWidth <= 0 {
		c.MinScreenWidth = d.MinScreenWidth
	}
	if c.MinScreenHeight <= 0 {
		c.MinScreenHeight = d.MinScreenHeight
	}
	if c.SuspiciousAgents == nil {
		c.SuspiciousAgents = d.SuspiciousAgents
	}
	if c.MediaConstraints == (MediaConstraints{}) {
		c.MediaConstraints = d.MediaConstraints
	}
	return c
}
