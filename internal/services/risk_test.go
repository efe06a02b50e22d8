package services

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/database"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var riskWallet = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		DailyLossThreshold: 0.02,
		CooldownMinutes:    60,
		CapitalEth:         5,
		KillSwitch:         config.KillSwitchConfig{Enabled: true, BalanceThresholdEth: 0.5},
	}
}

func milliEth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

func TestRiskManager_ActiveWhenHealthy(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rm := NewRiskManager(context.Background(), &fakeBalance{balance: eth(2)}, riskWallet, database.NewMemoryRiskStore(), testLogger())

	state, tripped, err := rm.Evaluate(context.Background(), now, riskConfig())
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.Equal(t, models.RiskModeActive, state.Mode)
	assert.True(t, state.CanTrade())
}

func TestRiskManager_KillSwitchIsSticky(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	balance := &fakeBalance{balance: milliEth(400)}
	store := database.NewMemoryRiskStore()
	rm := NewRiskManager(context.Background(), balance, riskWallet, store, testLogger())

	state, tripped, err := rm.Evaluate(context.Background(), now, riskConfig())
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.Equal(t, models.RiskModeKillSwitchActive, state.Mode)
	assert.Contains(t, state.Reason, "below threshold")

	balance.set(milliEth(600))
	state, tripped, err = rm.Evaluate(context.Background(), now.Add(time.Minute), riskConfig())
	require.NoError(t, err)
	assert.False(t, tripped, "trip is reported once")
	assert.Equal(t, models.RiskModeKillSwitchActive, state.Mode)
	assert.Equal(t, 1, balance.calls, "no probe while halted")

	rec, err := store.LoadRisk(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.KillSwitchActive)

	rm.ResetKillSwitch(context.Background())
	state, _, err = rm.Evaluate(context.Background(), now.Add(2*time.Minute), riskConfig())
	require.NoError(t, err)
	assert.Equal(t, models.RiskModeActive, state.Mode)

	rec, err = store.LoadRisk(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.KillSwitchActive)
}

func TestRiskManager_KillSwitchDisabled(t *testing.T) {
	cfg := riskConfig()
	cfg.KillSwitch.Enabled = false
	balance := &fakeBalance{balance: big.NewInt(0)}
	rm := NewRiskManager(context.Background(), balance, riskWallet, database.NewMemoryRiskStore(), testLogger())

	state, tripped, err := rm.Evaluate(context.Background(), time.Now(), cfg)
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.Equal(t, models.RiskModeActive, state.Mode)
	assert.Zero(t, balance.calls)
}

func TestRiskManager_ProbeFailure(t *testing.T) {
	rm := NewRiskManager(context.Background(), &fakeBalance{err: errBoom}, riskWallet, database.NewMemoryRiskStore(), testLogger())

	_, tripped, err := rm.Evaluate(context.Background(), time.Now(), riskConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, tripped)
}

func TestRiskManager_DailyLossCooldown(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store := database.NewMemoryRiskStore()
	rm := NewRiskManager(context.Background(), &fakeBalance{balance: eth(2)}, riskWallet, store, testLogger())

	ledger := []models.Trade{tradeAt(now, models.TradeStatusFailed, "-0.25")}
	require.True(t, rm.AfterTrade(context.Background(), now, ledger, riskConfig()))

	state := rm.State(now)
	assert.Equal(t, models.RiskModeCooldown, state.Mode)
	assert.Equal(t, now.Add(60*time.Minute), state.CooldownUntil)
	assert.False(t, state.CanTrade())

	evaluated, _, err := rm.Evaluate(context.Background(), now.Add(time.Minute), riskConfig())
	require.NoError(t, err)
	assert.Equal(t, models.RiskModeCooldown, evaluated.Mode)

	assert.Equal(t, models.RiskModeActive, rm.State(now.Add(61*time.Minute)).Mode)

	rec, err := store.LoadRisk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(60*time.Minute), rec.CooldownUntil)
}

func TestRiskManager_CooldownNeverMovesBackwards(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rm := NewRiskManager(context.Background(), &fakeBalance{balance: eth(2)}, riskWallet, database.NewMemoryRiskStore(), testLogger())
	ledger := []models.Trade{tradeAt(now.Add(-time.Hour), models.TradeStatusFailed, "-0.25")}

	require.True(t, rm.AfterTrade(context.Background(), now, ledger, riskConfig()))
	until := rm.State(now).CooldownUntil

	short := riskConfig()
	short.CooldownMinutes = 5
	assert.False(t, rm.AfterTrade(context.Background(), now.Add(time.Minute), ledger, short))
	assert.Equal(t, until, rm.State(now).CooldownUntil)

	assert.True(t, rm.AfterTrade(context.Background(), now.Add(10*time.Minute), ledger, riskConfig()))
	assert.True(t, rm.State(now).CooldownUntil.After(until))
}

func TestRiskManager_SmallLossNoCooldown(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rm := NewRiskManager(context.Background(), &fakeBalance{balance: eth(2)}, riskWallet, database.NewMemoryRiskStore(), testLogger())

	ledger := []models.Trade{
		tradeAt(now, models.TradeStatusFailed, "-0.05"),
		tradeAt(now, models.TradeStatusSimulated, "-3"),
		tradeAt(now.Add(-48*time.Hour), models.TradeStatusFailed, "-3"),
	}
	assert.False(t, rm.AfterTrade(context.Background(), now, ledger, riskConfig()))
	assert.Equal(t, models.RiskModeActive, rm.State(now).Mode)
}

func TestRiskManager_RestoresPersistedState(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store := database.NewMemoryRiskStore()
	require.NoError(t, store.SaveRisk(context.Background(), database.RiskRecord{
		CooldownUntil:    now.Add(time.Hour),
		KillSwitchActive: true,
		KillSwitchReason: "wallet drained",
	}))

	rm := NewRiskManager(context.Background(), &fakeBalance{balance: eth(2)}, riskWallet, store, testLogger())
	state := rm.State(now)
	assert.Equal(t, models.RiskModeKillSwitchActive, state.Mode)
	assert.Equal(t, "wallet drained", state.Reason)
	assert.Equal(t, now.Add(time.Hour), state.CooldownUntil)
}

func TestRiskManager_StopStart(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	balance := &fakeBalance{balance: eth(2)}
	rm := NewRiskManager(context.Background(), balance, riskWallet, database.NewMemoryRiskStore(), testLogger())

	rm.Stop()
	state, _, err := rm.Evaluate(context.Background(), now, riskConfig())
	require.NoError(t, err)
	assert.Equal(t, models.RiskModeStopped, state.Mode)
	assert.Zero(t, balance.calls)

	rm.Start()
	assert.Equal(t, models.RiskModeActive, rm.State(now).Mode)
}
