// Package replay drives a proctored session from a YAML scenario against a live Test API.
package replay

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/proctor"
	"gopkg.in/yaml.v3"
)

// Scenario is one scripted sitting of a test.
type Scenario struct {
	Name   string `yaml:"name"`
	TestID string `yaml:"test_id"`
	Policy Policy `yaml:"policy"`
	Device Device `yaml:"device"`
	Steps  []Step `yaml:"steps"`
	Expect Expect `yaml:"expect"`
	// Timeout bounds the whole run, including the wait for a submission.
	Timeout time.Duration `yaml:"timeout"`
}

// Policy overrides the session thresholds. Zero values keep the defaults.
type Policy struct {
	StrikeThreshold int           `yaml:"strike_threshold"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	FullscreenPoll  time.Duration `yaml:"fullscreen_poll"`
	FaceSample      time.Duration `yaml:"face_sample"`
	AudioSample     time.Duration `yaml:"audio_sample"`
	EnvCheck        time.Duration `yaml:"env_check"`
}

// Config applies the overrides to base.
func (p Policy) Config(base proctor.Config) proctor.Config {
	if p.StrikeThreshold > 0 {
		base.StrikeThreshold = p.StrikeThreshold
	}
	if p.SettleDelay > 0 {
		base.SettleDelay = p.SettleDelay
	}
	if p.FullscreenPoll > 0 {
		base.FullscreenPoll = p.FullscreenPoll
	}
	if p.FaceSample > 0 {
		base.FaceSampleInterval = p.FaceSample
	}
	if p.AudioSample > 0 {
		base.AudioSampleInterval = p.AudioSample
	}
	if p.EnvCheck > 0 {
		base.EnvCheckInterval = p.EnvCheck
	}
	return base
}

// Device describes the simulated candidate machine at the start of the run.
type Device struct {
	ScreenWidth    int     `yaml:"screen_width"`
	ScreenHeight   int     `yaml:"screen_height"`
	UserAgent      string  `yaml:"user_agent"`
	Timezone       string  `yaml:"timezone"`
	Locale         string  `yaml:"locale"`
	DevtoolsGap    int     `yaml:"devtools_gap"`
	MediaDenied    bool    `yaml:"media_denied"`
	DenyFullscreen bool    `yaml:"deny_fullscreen"`
	FaceAbsent     bool    `yaml:"face_absent"`
	Noise          float64 `yaml:"noise"`
	SecondTab      bool    `yaml:"second_tab"`
}

// Choice selects an option of a question.
type Choice struct {
	Question int `yaml:"question"`
	Option   int `yaml:"option"`
}

// Step is exactly one action.
type Step struct {
	Wait       time.Duration   `yaml:"wait"`
	Signal     *proctor.Signal `yaml:"signal"`
	Key        string          `yaml:"key"`
	Hidden     *bool           `yaml:"hidden"`
	Fullscreen *bool           `yaml:"fullscreen"`
	Face       *bool           `yaml:"face"`
	Noise      *float64        `yaml:"noise"`
	Devtools   *bool           `yaml:"devtools"`
	Select     *Choice         `yaml:"select"`
	Mark       *int            `yaml:"mark"`
	Goto       *int            `yaml:"goto"`
	Submit     bool            `yaml:"submit"`
	Force      string          `yaml:"force"`
}

// kind names the single action a step carries.
func (s Step) kind() (string, error) {
	var set []string
	add := func(ok bool, name string) {
		if ok {
			set = append(set, name)
		}
	}
	add(s.Wait > 0, "wait")
	add(s.Signal != nil, "signal")
	add(s.Key != "", "key")
	add(s.Hidden != nil, "hidden")
	add(s.Fullscreen != nil, "fullscreen")
	add(s.Face != nil, "face")
	add(s.Noise != nil, "noise")
	add(s.Devtools != nil, "devtools")
	add(s.Select != nil, "select")
	add(s.Mark != nil, "mark")
	add(s.Goto != nil, "goto")
	add(s.Submit, "submit")
	add(s.Force != "", "force")

	switch len(set) {
	case 0:
		return "", errors.New("empty step")
	case 1:
		return set[0], nil
	}
	return "", fmt.Errorf("step sets %s, want exactly one action", strings.Join(set, ", "))
}

// Expect is checked against the session once the run ends.
type Expect struct {
	Status        proctor.Status `yaml:"status"`
	Strikes       *int           `yaml:"strikes"`
	MinViolations int            `yaml:"min_violations"`
	Activities    []string       `yaml:"activities"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a scenario document.
func Parse(raw []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if sc.TestID == "" {
		return nil, errors.New("scenario: test_id is required")
	}
	for i, st := range sc.Steps {
		if _, err := st.kind(); err != nil {
			return nil, fmt.Errorf("scenario step %d: %w", i+1, err)
		}
	}
	if sc.Timeout <= 0 {
		sc.Timeout = 5 * time.Minute
	}
	return &sc, nil
}

// ParseKey turns "ctrl+shift+i" into a keydown signal.
func ParseKey(combo string) proctor.Signal {
	sig := proctor.Signal{Kind: proctor.SignalKeyDown}
	parts := strings.Split(combo, "+")
	sig.Key = parts[len(parts)-1]
	for _, mod := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(mod)) {
		case "ctrl", "control":
			sig.Ctrl = true
		case "meta", "cmd":
			sig.Meta = true
		case "alt":
			sig.Alt = true
		case "shift":
			sig.Shift = true
		}
	}
	return sig
}
