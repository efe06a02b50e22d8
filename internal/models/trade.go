package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the final classification of a dispatched trade.
type TradeStatus string

const (
	TradeStatusSuccess   TradeStatus = "success"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusSimulated TradeStatus = "simulated"
)

// Trade is an append-only ledger entry. Opportunity is a snapshot taken at
// dispatch time and is never mutated afterwards.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	Opportunity Opportunity     `json:"opportunity" db:"opportunity"`
	Strategy    Strategy        `json:"strategy" db:"strategy"`
	Status      TradeStatus     `json:"status" db:"status"`
	Profit      decimal.Decimal `json:"profit" db:"profit"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	TxHash      string          `json:"tx_hash,omitempty" db:"tx_hash"`
	PostMortem  string          `json:"post_mortem,omitempty" db:"post_mortem"`
}

// IsSimulated reports whether the trade was produced in simulation mode.
func (t Trade) IsSimulated() bool {
	return t.Status == TradeStatusSimulated
}
