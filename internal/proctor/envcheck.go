package proctor

import (
	"fmt"
	"strings"
	"time"
)

const (
	msgSmallScreen    = "Unusually small screen detected"
	msgMissingLocale  = "Timezone or locale could not be resolved"
	msgDevtools       = "Developer tools possibly open"
	msgMultipleTabs   = "Multiple tabs detected"
	msgStorageBlocked = "Possible multiple tabs (tab storage unavailable)"
)

// fingerprintViolations evaluates the one-off environment fingerprint.
func fingerprintViolations(fp Fingerprint, cfg Config) []Violation {
	var out []Violation
	if fp.ScreenWidth < cfg.MinScreenWidth || fp.ScreenHeight < cfg.MinScreenHeight {
		out = append(out, Violation{
			Description: fmt.Sprintf("%s (%dx%d)", msgSmallScreen, fp.ScreenWidth, fp.ScreenHeight),
			Severity:    SeverityMedium,
		})
	}
	ua := strings.ToLower(fp.UserAgent)
	for _, marker := range cfg.SuspiciousAgents {
		if strings.Contains(ua, marker) {
			out = append(out, Violation{
				Description: fmt.Sprintf("Virtualization or remote desktop suspected (%s)", marker),
				Severity:    SeverityHigh,
			})
			break
		}
	}
	if strings.TrimSpace(fp.Timezone) == "" || strings.TrimSpace(fp.Locale) == "" {
		out = append(out, Violation{Description: msgMissingLocale, Severity: SeverityMedium})
	}
	return out
}

// devtoolsOpen compares outer and inner window sizes.
func devtoolsOpen(m WindowMetrics, gap int) bool {
	return m.OuterWidth-m.InnerWidth > gap || m.OuterHeight-m.InnerHeight > gap
}

// heartbeatViolation interprets the result of writing the tab heartbeat.
func heartbeatViolation(prev, now time.Time, err error, window time.Duration) (Violation, bool) {
	if err != nil {
		return Violation{Description: msgStorageBlocked, Severity: SeverityMedium}, true
	}
	if !prev.IsZero() && now.Sub(prev) < window {
		return Violation{Description: msgMultipleTabs, Severity: SeverityHigh}, true
	}
	return Violation{}, false
}
