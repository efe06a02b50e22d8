package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Strategy identifies the shape of an arbitrage route.
type Strategy string

const (
	StrategyPairwise   Strategy = "flashloan-pairwise-interdex"
	StrategyTriangular Strategy = "flashloan-triangular"
)

// Token roles used as keys in TokenRoute.Addresses.
const (
	RoleTokenA = "tokenA"
	RoleTokenB = "tokenB"
	RoleTokenC = "tokenC"
)

// TokenRoute is a configured set of tokens and venues scanned every tick.
type TokenRoute struct {
	Symbol    string            `json:"symbol" mapstructure:"symbol" yaml:"symbol"`
	Chain     string            `json:"chain" mapstructure:"chain" yaml:"chain"`
	Strategy  Strategy          `json:"strategy" mapstructure:"strategy" yaml:"strategy"`
	MinSpread float64           `json:"min_spread" mapstructure:"min_spread" yaml:"min_spread"`
	Dexes     []string          `json:"dexes" mapstructure:"dexes" yaml:"dexes"`
	Addresses map[string]string `json:"addresses" mapstructure:"addresses" yaml:"addresses"`
}

// Address returns the token address for a role. Lookup is case-insensitive
// because viper lowercases nested map keys.
func (r TokenRoute) Address(role string) (common.Address, bool) {
	for k, v := range r.Addresses {
		if strings.EqualFold(k, role) && common.IsHexAddress(v) {
			return common.HexToAddress(v), true
		}
	}
	return common.Address{}, false
}

// Validate checks that the route has the venues and tokens its strategy needs.
func (r TokenRoute) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("route symbol is required")
	}
	if r.MinSpread < 0 {
		return fmt.Errorf("route %s: min_spread must not be negative", r.Symbol)
	}

	var roles []string
	switch r.Strategy {
	case StrategyPairwise:
		if len(r.Dexes) != 2 {
			return fmt.Errorf("route %s: pairwise strategy needs exactly 2 dexes, got %d", r.Symbol, len(r.Dexes))
		}
		roles = []string{RoleTokenA, RoleTokenB}
	case StrategyTriangular:
		if len(r.Dexes) != 1 {
			return fmt.Errorf("route %s: triangular strategy needs exactly 1 dex, got %d", r.Symbol, len(r.Dexes))
		}
		roles = []string{RoleTokenA, RoleTokenB, RoleTokenC}
	default:
		return fmt.Errorf("route %s: unknown strategy %q", r.Symbol, r.Strategy)
	}

	for _, role := range roles {
		if _, ok := r.Address(role); !ok {
			return fmt.Errorf("route %s: missing or invalid %s address", r.Symbol, role)
		}
	}
	return nil
}

// Clone returns a deep copy so snapshots never share slices or maps with config.
func (r TokenRoute) Clone() TokenRoute {
	out := r
	if r.Dexes != nil {
		out.Dexes = append([]string(nil), r.Dexes...)
	}
	if r.Addresses != nil {
		out.Addresses = make(map[string]string, len(r.Addresses))
		for k, v := range r.Addresses {
			out.Addresses[k] = v
		}
	}
	return out
}
