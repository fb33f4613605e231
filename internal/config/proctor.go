package config

import "github.com/stemsi/exstem-proctor/internal/proctor"

// Proctor converts the environment settings into the session policy.
func (c *Config) Proctor() proctor.Config {
	pc := proctor.DefaultConfig()
	if c.StrikeThreshold > 0 {
		pc.StrikeThreshold = c.StrikeThreshold
	}
	if c.LedgerSize > 0 {
		pc.LedgerSize = c.LedgerSize
	}
	if c.SettleDelay >= 0 {
		pc.SettleDelay = c.SettleDelay
	}
	if c.WarningDuration > 0 {
		pc.WarningDuration = c.WarningDuration
	}
	return pc
}
