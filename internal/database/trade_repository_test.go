package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tradeColumns = []string{"id", "opportunity", "strategy", "status", "profit", "timestamp", "tx_hash", "post_mortem"}

func sampleTrade(id string, status models.TradeStatus, profit string, ts time.Time) models.Trade {
	return models.Trade{
		ID: id,
		Opportunity: models.Opportunity{
			ID:       "opp-" + id,
			Route:    models.TokenRoute{Symbol: "WMATIC/WETH", Strategy: models.StrategyPairwise, Dexes: []string{"quickswap", "sushiswap"}},
			Strategy: models.StrategyPairwise,
			Spread:   0.05,
		},
		Strategy:  models.StrategyPairwise,
		Status:    status,
		Profit:    decimal.RequireFromString(profit),
		Timestamp: ts,
		TxHash:    "0xabc",
	}
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestTradeRepository_EnsureSchema(t *testing.T) {
	mock := newMock(t)
	repo := NewTradeRepository(mock)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS trades").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_Append(t *testing.T) {
	mock := newMock(t)
	repo := NewTradeRepository(mock)
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	trade := sampleTrade("t1", models.TradeStatusSuccess, "0.0125", ts)

	mock.ExpectExec("INSERT INTO trades").
		WithArgs("t1", pgxmock.AnyArg(), "flashloan-pairwise-interdex", "success", "0.0125", ts, "0xabc", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Append(context.Background(), trade))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_AppendError(t *testing.T) {
	mock := newMock(t)
	repo := NewTradeRepository(mock)

	mock.ExpectExec("INSERT INTO trades").WillReturnError(errors.New("connection reset"))

	err := repo.Append(context.Background(), sampleTrade("t1", models.TradeStatusFailed, "-0.001", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append trade t1")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestTradeRepository_Query(t *testing.T) {
	mock := newMock(t)
	repo := NewTradeRepository(mock)
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	snapshot, err := json.Marshal(sampleTrade("t2", models.TradeStatusSuccess, "0", ts).Opportunity)
	require.NoError(t, err)

	rows := pgxmock.NewRows(tradeColumns).
		AddRow("t2", snapshot, "flashloan-pairwise-interdex", "success", "0.02", ts, "0xdef", "Spread held.").
		AddRow("t1", snapshot, "flashloan-pairwise-interdex", "failed", "-0.001", ts.Add(-time.Minute), "", "")
	mock.ExpectQuery("SELECT id, opportunity").WithArgs(10, 5).WillReturnRows(rows)

	trades, err := repo.Query(context.Background(), 10, 5)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "t2", trades[0].ID)
	assert.Equal(t, models.TradeStatusSuccess, trades[0].Status)
	assert.True(t, decimal.RequireFromString("0.02").Equal(trades[0].Profit))
	assert.Equal(t, "WMATIC/WETH", trades[0].Opportunity.Route.Symbol)
	assert.Equal(t, "Spread held.", trades[0].PostMortem)
	assert.Equal(t, models.TradeStatusFailed, trades[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_QueryDefaultsLimit(t *testing.T) {
	mock := newMock(t)
	repo := NewTradeRepository(mock)

	mock.ExpectQuery("SELECT id, opportunity").WithArgs(50, 0).WillReturnRows(pgxmock.NewRows(tradeColumns))

	trades, err := repo.Query(context.Background(), 0, -3)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestTradeRepository_QueryBadSnapshot(t *testing.T) {
	mock := newMock(t)
	repo := NewTradeRepository(mock)

	rows := pgxmock.NewRows(tradeColumns).
		AddRow("t1", []byte("{not json"), "flashloan-triangular", "failed", "0", time.Now(), "", "")
	mock.ExpectQuery("SELECT id, opportunity").WillReturnRows(rows)

	_, err := repo.All(context.Background())
	assert.ErrorContains(t, err, "failed to decode opportunity for trade t1")
}

func TestTradeRepository_AggregateStats(t *testing.T) {
	mock := newMock(t)
	repo := NewTradeRepository(mock)
	dayStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)

	mock.ExpectQuery("FROM trades").
		WithArgs(dayStart).
		WillReturnRows(pgxmock.NewRows([]string{"sum", "today", "successes", "total"}).
			AddRow("0.0190", int64(2), int64(2), int64(3)))

	stats, err := repo.AggregateStats(context.Background(), dayStart)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.019").Equal(stats.TotalPnl))
	assert.Equal(t, 2, stats.TradesToday)
	assert.Equal(t, 66.67, stats.SuccessRate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryTradeStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTradeStore()
	dayStart := time.Date(2025, 3, 2, 0, 0, 0, 0, time.Local)

	yesterday := sampleTrade("a", models.TradeStatusSuccess, "0.05", dayStart.Add(-time.Hour))
	today := sampleTrade("b", models.TradeStatusFailed, "-0.01", dayStart.Add(time.Hour))
	simulated := sampleTrade("c", models.TradeStatusSimulated, "1", dayStart.Add(2*time.Hour))

	for _, tr := range []models.Trade{yesterday, today, simulated, today} {
		require.NoError(t, store.Append(ctx, tr))
	}

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3, "re-appending an id must not duplicate it")
	assert.Equal(t, "a", all[0].ID)

	page, err := store.Query(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, err = store.Query(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, page)

	stats, err := store.AggregateStats(ctx, dayStart)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.04").Equal(stats.TotalPnl))
	assert.Equal(t, 1, stats.TradesToday)
	assert.Equal(t, 50.0, stats.SuccessRate)
}

func TestMemoryTradeStore_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTradeStore()

	trade := sampleTrade("a", models.TradeStatusSuccess, "0.05", time.Now())
	require.NoError(t, store.Append(ctx, trade))
	trade.Opportunity.Route.Dexes[0] = "mutated"

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "quickswap", all[0].Opportunity.Route.Dexes[0])
}
