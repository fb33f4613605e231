package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKey(t *testing.T) {
	tests := []struct {
		name     string
		sig      Signal
		blocked  bool
		severity Severity
		desc     string
	}{
		{"escape", Signal{Key: "Escape"}, true, SeverityCritical, "Escape key pressed"},
		{"escape with ctrl", Signal{Key: "Escape", Ctrl: true}, true, SeverityCritical, "Escape key pressed"},
		{"esc legacy name", Signal{Key: "Esc"}, true, SeverityCritical, "Escape key pressed"},
		{"f12", Signal{Key: "F12"}, true, SeverityHigh, "Blocked key pressed: F12"},
		{"f5", Signal{Key: "F5"}, true, SeverityHigh, "Blocked key pressed: F5"},
		{"ctrl c", Signal{Key: "c", Ctrl: true}, true, SeverityHigh, "Blocked key combination: Ctrl+C"},
		{"meta upper T", Signal{Key: "T", Meta: true}, true, SeverityHigh, "Blocked key combination: Meta+T"},
		{"ctrl shift i", Signal{Key: "I", Ctrl: true, Shift: true}, true, SeverityHigh, "Blocked key combination: Ctrl+Shift+I"},
		{"ctrl e allowed", Signal{Key: "e", Ctrl: true}, false, "", ""},
		{"plain c allowed", Signal{Key: "c"}, false, "", ""},
		{"alt tab", Signal{Key: "Tab", Alt: true}, true, SeverityHigh, "Blocked key combination: Alt+Tab"},
		{"alt space", Signal{Key: " ", Alt: true}, true, SeverityHigh, "Blocked key combination: Alt+Space"},
		{"alt enter", Signal{Key: "Enter", Alt: true}, true, SeverityHigh, "Blocked key combination: Alt+Enter"},
		{"alt f4", Signal{Key: "F4", Alt: true}, true, SeverityHigh, "Blocked key combination: Alt+F4"},
		{"plain tab allowed", Signal{Key: "Tab"}, false, "", ""},
		{"shift tab", Signal{Key: "Tab", Shift: true}, true, SeverityHigh, "Blocked key combination: Shift+Tab"},
		{"shift f10", Signal{Key: "F10", Shift: true}, true, SeverityHigh, "Blocked key combination: Shift+F10"},
		{"plain space allowed", Signal{Key: " "}, false, "", ""},
		{"enter allowed", Signal{Key: "Enter"}, false, "", ""},
		{"ctrl digit allowed", Signal{Key: "1", Ctrl: true}, false, "", ""},
		{"fancy F key name", Signal{Key: "Fn"}, false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, blocked := ClassifyKey(tt.sig)
			assert.Equal(t, tt.blocked, blocked)
			if !tt.blocked {
				return
			}
			assert.Equal(t, tt.severity, v.Severity)
			assert.Equal(t, tt.desc, v.Description)
		})
	}
}

func TestEscapeCarriesTerminationReason(t *testing.T) {
	v, _ := ClassifyKey(Signal{Key: "Escape"})
	assert.Equal(t, ReasonEscapePressed, v.Reason)
}

func TestBlockedKeysCoversEveryShortcutLetter(t *testing.T) {
	rules := BlockedKeys()
	assert.Len(t, rules, 4)
	assert.Contains(t, rules[0].Keys, "Escape")
	assert.Contains(t, rules[0].Keys, "F12")
	assert.Empty(t, rules[0].Modifiers)
	assert.Len(t, rules[1].Keys, 24)
	assert.ElementsMatch(t, []string{"Ctrl", "Meta"}, rules[1].Modifiers)
	assert.ElementsMatch(t, []string{"Tab", "F4", "Space", "Enter"}, rules[2].Keys)
	assert.ElementsMatch(t, []string{"F10", "Tab"}, rules[3].Keys)
}
