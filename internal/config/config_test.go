package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsProctoringPolicy(t *testing.T) {
	t.Setenv("PROCTOR_STRIKE_THRESHOLD", "5")
	t.Setenv("PROCTOR_SETTLE_DELAY_MS", "250")
	t.Setenv("PROCTOR_WARNING_SECONDS", "not-a-number")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	assert.Equal(t, 5, cfg.StrikeThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, 5*time.Second, cfg.WarningDuration)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)

	pc := cfg.Proctor()
	assert.Equal(t, 5, pc.StrikeThreshold)
	assert.Equal(t, 250*time.Millisecond, pc.SettleDelay)
	assert.Equal(t, 5*time.Second, pc.WarningDuration)
}

func TestProctorKeepsDefaultsForUnsetValues(t *testing.T) {
	pc := (&Config{SettleDelay: -1}).Proctor()
	require.Positive(t, pc.StrikeThreshold)
	require.Positive(t, pc.LedgerSize)
	assert.Positive(t, pc.SettleDelay)
}

func TestKeysAreScopedPerCandidateAndTest(t *testing.T) {
	k := NewCacheKeyStruct()
	assert.Equal(t, "candidate:7:test:t1:heartbeat", k.TabHeartbeatKey("t1", 7))
	assert.NotEqual(t, k.TabHeartbeatKey("t1", 7), k.TabHeartbeatKey("t1", 8))
	assert.Equal(t, "login:7", k.CandidateSessionKey(7))
}
