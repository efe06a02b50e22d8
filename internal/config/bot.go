package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/utils"
)

// BotConfig is the trading configuration. It is reloaded at the start of
// every tick and may be replaced at runtime through the config store.
type BotConfig struct {
	Tokens            []models.TokenRoute  `mapstructure:"tokens" json:"tokens" yaml:"tokens"`
	PSuccessThreshold float64              `mapstructure:"p_success_threshold" json:"p_success_threshold" yaml:"p_success_threshold"`
	SimulationMode    bool                 `mapstructure:"simulation_mode" json:"simulation_mode" yaml:"simulation_mode"`
	FlashLoan         FlashLoanConfig      `mapstructure:"flash_loan" json:"flash_loan" yaml:"flash_loan"`
	RiskManagement    RiskConfig           `mapstructure:"risk_management" json:"risk_management" yaml:"risk_management"`
	Dexes             map[string]DexConfig `mapstructure:"dexes" json:"dexes" yaml:"dexes"`
}

type FlashLoanConfig struct {
	Provider        string  `mapstructure:"provider" json:"provider" yaml:"provider"`
	Fee             float64 `mapstructure:"fee" json:"fee" yaml:"fee"`
	ContractAddress string  `mapstructure:"contract_address" json:"contract_address" yaml:"contract_address"`
	DefaultLoanEth  float64 `mapstructure:"default_loan_eth" json:"default_loan_eth" yaml:"default_loan_eth"`
}

type RiskConfig struct {
	DailyLossThreshold float64          `mapstructure:"daily_loss_threshold" json:"daily_loss_threshold" yaml:"daily_loss_threshold"`
	CooldownMinutes    int              `mapstructure:"cooldown_minutes" json:"cooldown_minutes" yaml:"cooldown_minutes"`
	CapitalEth         float64          `mapstructure:"capital_eth" json:"capital_eth" yaml:"capital_eth"`
	KillSwitch         KillSwitchConfig `mapstructure:"kill_switch" json:"kill_switch" yaml:"kill_switch"`
}

type KillSwitchConfig struct {
	Enabled             bool    `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	BalanceThresholdEth float64 `mapstructure:"balance_threshold_eth" json:"balance_threshold_eth" yaml:"balance_threshold_eth"`
}

// DexConfig holds the UniswapV2-style contracts of one venue.
type DexConfig struct {
	Factory string `mapstructure:"factory" json:"factory" yaml:"factory"`
	Router  string `mapstructure:"router" json:"router" yaml:"router"`
}

// FallbackCapitalEth is used for the daily-loss ratio when capital is unset.
const FallbackCapitalEth = 10.0

// DefaultDexes are the Polygon venues the default routes trade on.
func DefaultDexes() map[string]DexConfig {
	return map[string]DexConfig{
		"QuickSwap": {Factory: "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32", Router: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"},
		"Sushiswap": {Factory: "0xc35DADB65012eC5796536bD9864eD8773aBc74C4", Router: "0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506"},
		"DFYN":      {Factory: "0xEb6330c2d584E523c2325c3451B42551e6eb5324", Router: "0xA102072A4C07F06EC3B4900FDC4C7B80b6c57429"},
		"ApeSwap":   {Factory: "0xCf083Be4164828F00Cae704EC15a36D711491284", Router: "0xC0788A3aD43d79aa53541c3223E44293D76b3258"},
	}
}

// DefaultRoutes are the routes scanned when none are configured.
func DefaultRoutes() []models.TokenRoute {
	return []models.TokenRoute{
		{
			Symbol: "DFYN/WMATIC", Chain: "Polygon", Strategy: models.StrategyPairwise, MinSpread: 0.004,
			Dexes:     []string{"DFYN", "QuickSwap"},
			Addresses: routeRoles("0xC168E40227E4EBD8C1CaE80F7a55a4F0e6D662Df", "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", ""),
		},
		{
			Symbol: "LINK/WETH", Chain: "Polygon", Strategy: models.StrategyPairwise, MinSpread: 0.003,
			Dexes:     []string{"QuickSwap", "Sushiswap"},
			Addresses: routeRoles("0x53e0bca35ec356bd5dddf734b7f8bcac177c8598", "0x7ceb23fd6bc0add59e62ac25578270cff1b9f619", ""),
		},
		{
			Symbol: "RNDR/WMATIC/WETH", Chain: "Polygon", Strategy: models.StrategyTriangular, MinSpread: 0.003,
			Dexes: []string{"QuickSwap"},
			Addresses: routeRoles("0x61299774020dA444Af134c82fa83E3810b309991", "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
				"0x7ceb23fd6bc0add59e62ac25578270cff1b9f619"),
		},
	}
}

// DefaultBotConfig mirrors the defaults registered with viper.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Tokens:            DefaultRoutes(),
		PSuccessThreshold: 0.7,
		SimulationMode:    true,
		FlashLoan: FlashLoanConfig{
			Provider:        "Aave V3",
			Fee:             0.0009,
			ContractAddress: "0x60F28b947E445BA0090b2bED3Efe23ba115079f6",
			DefaultLoanEth:  1.5,
		},
		RiskManagement: RiskConfig{
			DailyLossThreshold: 0.02,
			CooldownMinutes:    60,
			CapitalEth:         5.0,
			KillSwitch:         KillSwitchConfig{Enabled: true, BalanceThresholdEth: 0.5},
		},
		Dexes: DefaultDexes(),
	}
}

func (b BotConfig) withDefaults() BotConfig {
	if len(b.Tokens) == 0 {
		b.Tokens = DefaultRoutes()
	}
	if len(b.Dexes) == 0 {
		b.Dexes = DefaultDexes()
	}
	return b
}

// Validate checks thresholds, routes and that every route names a known venue.
func (b BotConfig) Validate() error {
	if b.PSuccessThreshold < 0 || b.PSuccessThreshold > 1 {
		return utils.NewValidationErrorf("bot.p_success_threshold", "must be within [0,1], got %v", b.PSuccessThreshold)
	}
	if b.FlashLoan.Fee < 0 {
		return utils.NewValidationErrorf("bot.flash_loan.fee", "must not be negative")
	}
	if !common.IsHexAddress(b.FlashLoan.ContractAddress) {
		return utils.NewValidationErrorf("bot.flash_loan.contract_address", "invalid address %q", b.FlashLoan.ContractAddress)
	}
	if b.RiskManagement.DailyLossThreshold < 0 || b.RiskManagement.CooldownMinutes < 0 {
		return utils.NewValidationErrorf("bot.risk_management", "thresholds must not be negative")
	}
	for name, dex := range b.Dexes {
		if !common.IsHexAddress(dex.Factory) || !common.IsHexAddress(dex.Router) {
			return utils.NewValidationErrorf("bot.dexes."+name, "factory and router must be valid addresses")
		}
	}
	for _, route := range b.Tokens {
		if err := route.Validate(); err != nil {
			return utils.NewValidationErrorf("bot.tokens", "%v", err)
		}
		for _, dex := range route.Dexes {
			if _, ok := b.Dex(dex); !ok {
				return utils.NewValidationErrorf("bot.tokens", "route %s references unknown dex %q", route.Symbol, dex)
			}
		}
	}
	return nil
}

// Dex looks up a venue by name, ignoring case.
func (b BotConfig) Dex(name string) (DexConfig, bool) {
	if dex, ok := b.Dexes[name]; ok {
		return dex, true
	}
	for k, dex := range b.Dexes {
		if strings.EqualFold(k, name) {
			return dex, true
		}
	}
	return DexConfig{}, false
}

// Capital returns the configured capital or FallbackCapitalEth.
func (r RiskConfig) Capital() float64 {
	if r.CapitalEth <= 0 {
		return FallbackCapitalEth
	}
	return r.CapitalEth
}

// Clone deep-copies the config so callers can never mutate shared state.
func (b BotConfig) Clone() BotConfig {
	out := b
	out.Tokens = make([]models.TokenRoute, len(b.Tokens))
	for i, route := range b.Tokens {
		out.Tokens[i] = route.Clone()
	}
	out.Dexes = make(map[string]DexConfig, len(b.Dexes))
	for k, v := range b.Dexes {
		out.Dexes[k] = v
	}
	return out
}

func (b BotConfig) String() string {
	return fmt.Sprintf("BotConfig{routes=%d threshold=%.2f simulation=%t}", len(b.Tokens), b.PSuccessThreshold, b.SimulationMode)
}
