package proctor

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyRule vetoes Keys when any of Modifiers is held. No modifiers means always.
type KeyRule struct {
	Modifiers []string `json:"modifiers,omitempty"`
	Keys      []string `json:"keys"`
}

var (
	shortcutKeys = "rntwuicvxapsohfgdlbjkmqz"
	altKeys      = []string{"Tab", "F4", "Space", "Enter"}
	shiftKeys    = []string{"F10", "Tab"}
)

// BlockedKeys lists the key rules in a form the adapter can apply before forwarding.
func BlockedKeys() []KeyRule {
	fn := make([]string, 0, 12)
	for i := 1; i <= 12; i++ {
		fn = append(fn, "F"+strconv.Itoa(i))
	}
	letters := make([]string, 0, len(shortcutKeys))
	for _, r := range shortcutKeys {
		letters = append(letters, string(r))
	}
	return []KeyRule{
		{Keys: append([]string{"Escape"}, fn...)},
		{Modifiers: []string{"Ctrl", "Meta"}, Keys: letters},
		{Modifiers: []string{"Alt"}, Keys: altKeys},
		{Modifiers: []string{"Shift"}, Keys: shiftKeys},
	}
}

// NormalizeKey maps KeyboardEvent.key spellings onto the names used by the blocklist.
func NormalizeKey(key string) string {
	switch key {
	case " ", "Spacebar":
		return "Space"
	case "Esc":
		return "Escape"
	}
	return key
}

func isFunctionKey(key string) bool {
	if len(key) < 2 || key[0] != 'F' {
		return false
	}
	n, err := strconv.Atoi(key[1:])
	return err == nil && n >= 1 && n <= 24
}

func contains(list []string, key string) bool {
	for _, k := range list {
		if k == key {
			return true
		}
	}
	return false
}

// ClassifyKey decides whether a keydown is vetoed and how it is recorded.
// Escape is critical regardless of modifiers; every other match is high.
func ClassifyKey(sig Signal) (Violation, bool) {
	key := NormalizeKey(sig.Key)

	if key == "Escape" {
		return Violation{
			Description: "Escape key pressed",
			Severity:    SeverityCritical,
			Reason:      ReasonEscapePressed,
		}, true
	}

	lower := strings.ToLower(key)
	blocked := isFunctionKey(key) ||
		((sig.Ctrl || sig.Meta) && len(lower) == 1 && strings.Contains(shortcutKeys, lower)) ||
		(sig.Alt && contains(altKeys, key)) ||
		(sig.Shift && contains(shiftKeys, key))
	if !blocked {
		return Violation{}, false
	}

	return Violation{
		Description: describeKey(sig, key),
		Severity:    SeverityHigh,
	}, true
}

func describeKey(sig Signal, key string) string {
	var mods []string
	if sig.Ctrl {
		mods = append(mods, "Ctrl")
	}
	if sig.Meta {
		mods = append(mods, "Meta")
	}
	if sig.Alt {
		mods = append(mods, "Alt")
	}
	if sig.Shift {
		mods = append(mods, "Shift")
	}
	if len(key) == 1 {
		key = strings.ToUpper(key)
	}
	if len(mods) == 0 {
		return fmt.Sprintf("Blocked key pressed: %s", key)
	}
	return fmt.Sprintf("Blocked key combination: %s+%s", strings.Join(mods, "+"), key)
}
