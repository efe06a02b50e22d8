package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryTradeStore is an in-process ledger used when Postgres is disabled
// and in tests. It has the same append-only semantics as TradeRepository.
type MemoryTradeStore struct {
	mu     sync.RWMutex
	trades []models.Trade
	ids    map[string]struct{}
}

func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{ids: make(map[string]struct{})}
}

func (s *MemoryTradeStore) Append(_ context.Context, trade models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[trade.ID]; ok {
		return nil
	}
	trade.Opportunity = trade.Opportunity.Snapshot()
	s.ids[trade.ID] = struct{}{}
	s.trades = append(s.trades, trade)
	return nil
}

// Query returns a page of trades, newest first.
func (s *MemoryTradeStore) Query(_ context.Context, limit, offset int) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	ordered := make([]models.Trade, len(s.trades))
	copy(ordered, s.trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.After(ordered[j].Timestamp)
	})
	if offset >= len(ordered) {
		return []models.Trade{}, nil
	}
	end := offset + limit
	if end > len(ordered) {
		end = len(ordered)
	}
	return ordered[offset:end], nil
}

func (s *MemoryTradeStore) All(context.Context) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Trade, len(s.trades))
	copy(out, s.trades)
	return out, nil
}

func (s *MemoryTradeStore) AggregateStats(_ context.Context, dayStart time.Time) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	var today, successes, count int
	for _, t := range s.trades {
		if t.IsSimulated() {
			continue
		}
		count++
		total = total.Add(t.Profit)
		if !t.Timestamp.Before(dayStart) {
			today++
		}
		if t.Status == models.TradeStatusSuccess {
			successes++
		}
	}
	return models.NewStats(total, today, successes, count), nil
}
