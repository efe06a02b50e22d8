package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionChannel selects how an approved trade reaches the chain.
type ExecutionChannel string

const (
	ChannelStandard ExecutionChannel = "standard"
	ChannelPrivate  ExecutionChannel = "private"
)

// ParseExecutionChannel accepts the channel names the scoring service emits.
func ParseExecutionChannel(s string) (ExecutionChannel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "public", "mempool":
		return ChannelStandard, true
	case "private", "flashbots", "relay":
		return ChannelPrivate, true
	default:
		return "", false
	}
}

// Opportunity is a scanned price discrepancy, enriched by the decision gate.
type Opportunity struct {
	ID                string           `json:"id"`
	Route             TokenRoute       `json:"token"`
	Strategy          Strategy         `json:"strategy"`
	Spread            float64          `json:"spread"`
	Liquidity         string           `json:"liquidity"`
	Scored            bool             `json:"scored"`
	PSuccess          float64          `json:"p_success"`
	LoanAmount        decimal.Decimal  `json:"loan_amount"`
	Rationale         string           `json:"rationale"`
	Channel           ExecutionChannel `json:"channel"`
	SimilarityContext string           `json:"similarity_context,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Snapshot returns a copy that shares no mutable state with the original.
func (o Opportunity) Snapshot() Opportunity {
	o.Route = o.Route.Clone()
	return o
}
