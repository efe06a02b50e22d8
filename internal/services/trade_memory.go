package services

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/irfndi/flashloan-arb-go/internal/models"
)

// NoSimilarTradesMessage is the similarity context for an empty ledger.
const NoSimilarTradesMessage = "No similar trades in memory."

const similarTradeLimit = 3

// TradeMemory recalls past trades resembling a new opportunity. Its output
// is context for the scorer and never gates execution.
type TradeMemory struct{}

func NewTradeMemory() *TradeMemory {
	return &TradeMemory{}
}

// Similarity scores one past trade against opp.
func Similarity(opp models.Opportunity, trade models.Trade) float64 {
	score := 0.0
	if trade.Opportunity.Route.Symbol == opp.Route.Symbol {
		score += 5
	}
	if trade.Strategy == opp.Strategy {
		score += 3
	}
	score += 1 / (math.Abs(trade.Opportunity.Spread-opp.Spread) + 0.1)
	return score
}

// FindSimilar returns up to three trades by descending similarity. Equal
// scores keep ledger order.
func (m *TradeMemory) FindSimilar(opp models.Opportunity, ledger []models.Trade) []models.Trade {
	type scored struct {
		trade models.Trade
		score float64
	}
	ranked := make([]scored, len(ledger))
	for i, t := range ledger {
		ranked[i] = scored{trade: t, score: Similarity(opp, t)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	n := len(ranked)
	if n > similarTradeLimit {
		n = similarTradeLimit
	}
	out := make([]models.Trade, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].trade
	}
	return out
}

// Context renders the similar trades as text for the scorer.
func (m *TradeMemory) Context(opp models.Opportunity, ledger []models.Trade) string {
	similar := m.FindSimilar(opp, ledger)
	if len(similar) == 0 {
		return NoSimilarTradesMessage
	}

	var b strings.Builder
	b.WriteString("Similar past trades:\n")
	for i, t := range similar {
		fmt.Fprintf(&b, "%d. %s %s spread %.4f: %s, profit %s ETH",
			i+1, t.Opportunity.Route.Symbol, t.Strategy, t.Opportunity.Spread, t.Status, t.Profit.StringFixed(6))
		if t.PostMortem != "" {
			fmt.Fprintf(&b, ". Post-mortem: %s", t.PostMortem)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
