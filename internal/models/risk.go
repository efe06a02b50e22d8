package models

import "time"

// RiskMode is the trading permission derived once per tick.
type RiskMode string

const (
	RiskModeActive           RiskMode = "active"
	RiskModeCooldown         RiskMode = "cooldown"
	RiskModeKillSwitchActive RiskMode = "kill_switch_active"
	RiskModeStopped          RiskMode = "stopped"
)

// RiskState is a point-in-time view of the risk state machine.
type RiskState struct {
	Mode             RiskMode  `json:"mode"`
	CooldownUntil    time.Time `json:"cooldown_until,omitempty"`
	KillSwitchActive bool      `json:"kill_switch_active"`
	Reason           string    `json:"reason,omitempty"`
}

// CanTrade reports whether dispatch is permitted.
func (s RiskState) CanTrade() bool {
	return s.Mode == RiskModeActive
}

// CooldownRemaining returns the time left in cooldown at now, or zero.
func (s RiskState) CooldownRemaining(now time.Time) time.Duration {
	if s.CooldownUntil.IsZero() || !now.Before(s.CooldownUntil) {
		return 0
	}
	return s.CooldownUntil.Sub(now)
}
