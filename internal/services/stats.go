package services

import (
	"sync"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/shopspring/decimal"
)

// StartOfDay is local midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DailyPnl sums realized profit of non-simulated trades on now's local day.
func DailyPnl(ledger []models.Trade, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, t := range ledger {
		if !t.IsSimulated() && sameDay(t.Timestamp, now) {
			total = total.Add(t.Profit)
		}
	}
	return total
}

// ComputeStats recomputes stats from the full ledger.
func ComputeStats(ledger []models.Trade, now time.Time) models.Stats {
	total := decimal.Zero
	var today, successes, count int
	for _, t := range ledger {
		if t.IsSimulated() {
			continue
		}
		count++
		total = total.Add(t.Profit)
		if sameDay(t.Timestamp, now) {
			today++
		}
		if t.Status == models.TradeStatusSuccess {
			successes++
		}
	}
	return models.NewStats(total, today, successes, count)
}

// StatsAggregator maintains stats incrementally as trades complete. Its
// result always equals ComputeStats over the same ledger.
type StatsAggregator struct {
	mu        sync.Mutex
	total     decimal.Decimal
	count     int
	successes int
	// per local day counts, keyed by StartOfDay in the aggregator's location
	daily map[time.Time]int
	loc   *time.Location
}

func NewStatsAggregator(loc *time.Location) *StatsAggregator {
	if loc == nil {
		loc = time.Local
	}
	return &StatsAggregator{total: decimal.Zero, daily: make(map[time.Time]int), loc: loc}
}

// Reset rebuilds the aggregator from a full ledger.
func (a *StatsAggregator) Reset(ledger []models.Trade) {
	a.mu.Lock()
	a.total = decimal.Zero
	a.count = 0
	a.successes = 0
	a.daily = make(map[time.Time]int)
	a.mu.Unlock()

	for _, t := range ledger {
		a.Add(t)
	}
}

// Add folds one completed trade into the totals.
func (a *StatsAggregator) Add(t models.Trade) {
	if t.IsSimulated() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.total = a.total.Add(t.Profit)
	if t.Status == models.TradeStatusSuccess {
		a.successes++
	}
	a.daily[StartOfDay(t.Timestamp.In(a.loc))]++
}

// Stats returns the current values as of now.
func (a *StatsAggregator) Stats(now time.Time) models.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	today := a.daily[StartOfDay(now.In(a.loc))]
	return models.NewStats(a.total, today, a.successes, a.count)
}
