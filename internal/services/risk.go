package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/irfndi/flashloan-arb-go/internal/chain"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/database"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BalanceProber reads the wallet balance for the kill switch.
type BalanceProber interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// RiskStore persists the two risk fields that are not derivable from the ledger.
type RiskStore interface {
	LoadRisk(ctx context.Context) (database.RiskRecord, error)
	SaveRisk(ctx context.Context, rec database.RiskRecord) error
}

// RiskManager is the risk state machine. The kill switch is sticky and
// cooldownUntil only ever moves forward.
type RiskManager struct {
	mu            sync.Mutex
	balance       BalanceProber
	account       common.Address
	store         RiskStore
	logger        *logrus.Logger
	cooldownUntil time.Time
	killSwitch    bool
	killReason    string
	stopped       bool
}

// NewRiskManager restores persisted state. A load failure starts from a
// clean record and is logged.
func NewRiskManager(ctx context.Context, balance BalanceProber, account common.Address, store RiskStore, logger *logrus.Logger) *RiskManager {
	r := &RiskManager{balance: balance, account: account, store: store, logger: logger}
	rec, err := store.LoadRisk(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to restore risk state, starting clean")
		return r
	}
	r.cooldownUntil = rec.CooldownUntil
	r.killSwitch = rec.KillSwitchActive
	r.killReason = rec.KillSwitchReason
	if r.killSwitch {
		logger.WithField("reason", r.killReason).Warn("Kill switch restored as active")
	}
	return r
}

// Evaluate runs the per-tick gate: kill switch probe first, then cooldown.
// tripped is true only on the tick the kill switch activates. A failed
// balance probe is returned as an error and the tick must not trade.
func (r *RiskManager) Evaluate(ctx context.Context, now time.Time, cfg config.RiskConfig) (state models.RiskState, tripped bool, err error) {
	r.mu.Lock()
	halted := r.killSwitch || r.stopped
	r.mu.Unlock()
	if halted {
		return r.State(now), false, nil
	}

	if cfg.KillSwitch.Enabled {
		wei, err := r.balance.BalanceAt(ctx, r.account, nil)
		if err != nil {
			return r.State(now), false, fmt.Errorf("balance probe failed: %w", err)
		}
		balance := chain.WeiToEth(wei)
		threshold := decimal.NewFromFloat(cfg.KillSwitch.BalanceThresholdEth)
		if balance.LessThan(threshold) {
			reason := fmt.Sprintf("wallet balance %s ETH below threshold %s ETH", balance.StringFixed(4), threshold.String())
			r.mu.Lock()
			tripped = !r.killSwitch
			r.killSwitch = true
			r.killReason = reason
			r.mu.Unlock()
			r.persist(ctx)
			r.logger.WithField("reason", reason).Error("Kill switch activated")
			return r.State(now), tripped, nil
		}
	}

	return r.State(now), false, nil
}

// AfterTrade recomputes today's realized PnL and starts a cooldown when the
// loss exceeds the configured fraction of capital. It returns true when a
// cooldown was set or extended.
func (r *RiskManager) AfterTrade(ctx context.Context, now time.Time, ledger []models.Trade, cfg config.RiskConfig) bool {
	pnl := DailyPnl(ledger, now)
	if !pnl.IsNegative() {
		return false
	}
	lossFraction := pnl.Abs().Div(decimal.NewFromFloat(cfg.Capital()))
	if !lossFraction.GreaterThan(decimal.NewFromFloat(cfg.DailyLossThreshold)) {
		return false
	}

	until := now.Add(time.Duration(cfg.CooldownMinutes) * time.Minute)
	r.mu.Lock()
	if !until.After(r.cooldownUntil) {
		r.mu.Unlock()
		return false
	}
	r.cooldownUntil = until
	r.mu.Unlock()
	r.persist(ctx)

	r.logger.WithFields(logrus.Fields{
		"daily_pnl":      pnl.String(),
		"loss_fraction":  lossFraction.StringFixed(4),
		"cooldown_until": until.Format(time.RFC3339),
	}).Warn("Daily loss threshold exceeded, entering cooldown")
	return true
}

// ResetKillSwitch clears the sticky kill switch.
func (r *RiskManager) ResetKillSwitch(ctx context.Context) {
	r.mu.Lock()
	r.killSwitch = false
	r.killReason = ""
	r.mu.Unlock()
	r.persist(ctx)
}

// Stop moves the machine to Stopped until Start is called.
func (r *RiskManager) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

func (r *RiskManager) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = false
}

// State returns the current state without probing.
func (r *RiskManager) State(now time.Time) models.RiskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked(now)
}

func (r *RiskManager) stateLocked(now time.Time) models.RiskState {
	state := models.RiskState{
		Mode:             models.RiskModeActive,
		CooldownUntil:    r.cooldownUntil,
		KillSwitchActive: r.killSwitch,
	}
	switch {
	case r.killSwitch:
		state.Mode = models.RiskModeKillSwitchActive
		state.Reason = r.killReason
	case r.stopped:
		state.Mode = models.RiskModeStopped
		state.Reason = "stopped by operator"
	case now.Before(r.cooldownUntil):
		state.Mode = models.RiskModeCooldown
		state.Reason = fmt.Sprintf("cooldown for %s", r.cooldownUntil.Sub(now).Round(time.Second))
	}
	return state
}

func (r *RiskManager) persist(ctx context.Context) {
	r.mu.Lock()
	rec := database.RiskRecord{
		CooldownUntil:    r.cooldownUntil,
		KillSwitchActive: r.killSwitch,
		KillSwitchReason: r.killReason,
	}
	r.mu.Unlock()

	if err := r.store.SaveRisk(ctx, rec); err != nil {
		r.logger.WithError(err).Warn("Failed to persist risk state")
	}
}
