package models

import (
	"math"

	"github.com/shopspring/decimal"
)

// Stats summarises the non-simulated part of the trade ledger.
type Stats struct {
	TotalPnl    decimal.Decimal `json:"total_pnl"`
	TradesToday int             `json:"trades_today"`
	SuccessRate float64         `json:"success_rate"`
}

// NewStats derives Stats from raw ledger totals. successRate is a percentage
// rounded to two decimals, zero when there are no trades.
func NewStats(totalPnl decimal.Decimal, tradesToday, successes, total int) Stats {
	s := Stats{TotalPnl: totalPnl, TradesToday: tradesToday}
	if total > 0 {
		s.SuccessRate = math.Round(float64(successes)/float64(total)*100*100) / 100
	}
	return s
}

// Equal compares stats field by field using decimal equality.
func (s Stats) Equal(other Stats) bool {
	return s.TotalPnl.Equal(other.TotalPnl) &&
		s.TradesToday == other.TradesToday &&
		s.SuccessRate == other.SuccessRate
}
