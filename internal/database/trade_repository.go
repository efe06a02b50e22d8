package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const createTradesTable = `
	CREATE TABLE IF NOT EXISTS trades (
		id          TEXT PRIMARY KEY,
		opportunity JSONB NOT NULL,
		strategy    TEXT NOT NULL,
		status      TEXT NOT NULL,
		profit      NUMERIC(38, 18) NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL,
		tx_hash     TEXT,
		post_mortem TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades (timestamp);
`

const selectTrades = `
	SELECT id, opportunity, strategy, status, profit::text, timestamp,
		COALESCE(tx_hash, ''), COALESCE(post_mortem, '')
	FROM trades
`

// TradeRepository is the authoritative append-only trade ledger.
type TradeRepository struct {
	pool DatabasePool
}

// NewTradeRepository creates a new trade repository.
//
// Parameters:
//
//	pool: The database connection pool.
//
// Returns:
//
//	*TradeRepository: The initialized repository.
func NewTradeRepository(pool DatabasePool) *TradeRepository {
	return &TradeRepository{pool: pool}
}

// EnsureSchema creates the trades table if it is missing.
func (r *TradeRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createTradesTable); err != nil {
		return fmt.Errorf("failed to create trades table: %w", err)
	}
	return nil
}

// Append inserts a trade. Re-appending an existing id is a no-op so a retried
// write never duplicates a ledger entry.
//
// Parameters:
//
//	ctx: Context.
//	trade: The trade to persist.
//
// Returns:
//
//	error: Error if operation fails.
func (r *TradeRepository) Append(ctx context.Context, trade models.Trade) error {
	opportunity, err := json.Marshal(trade.Opportunity)
	if err != nil {
		return fmt.Errorf("failed to encode opportunity snapshot: %w", err)
	}

	query := `
		INSERT INTO trades (id, opportunity, strategy, status, profit, timestamp, tx_hash, post_mortem)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		trade.ID,
		opportunity,
		string(trade.Strategy),
		string(trade.Status),
		trade.Profit.String(),
		trade.Timestamp,
		trade.TxHash,
		trade.PostMortem,
	)
	if err != nil {
		return fmt.Errorf("failed to append trade %s: %w", trade.ID, err)
	}
	return nil
}

// Query returns a page of trades, newest first.
func (r *TradeRepository) Query(ctx context.Context, limit, offset int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, selectTrades+` ORDER BY timestamp DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	return scanTrades(rows)
}

// All returns the full ledger in append order.
func (r *TradeRepository) All(ctx context.Context) ([]models.Trade, error) {
	rows, err := r.pool.Query(ctx, selectTrades+` ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return scanTrades(rows)
}

// AggregateStats computes stats over non-simulated trades. dayStart is the
// start of the caller's local calendar day.
func (r *TradeRepository) AggregateStats(ctx context.Context, dayStart time.Time) (models.Stats, error) {
	query := `
		SELECT
			COALESCE(SUM(profit), 0)::text,
			COUNT(*) FILTER (WHERE timestamp >= $1),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*)
		FROM trades
		WHERE status <> 'simulated'
	`
	var (
		total                       string
		today, successes, tradesAll int64
	)
	if err := r.pool.QueryRow(ctx, query, dayStart).Scan(&total, &today, &successes, &tradesAll); err != nil {
		return models.Stats{}, fmt.Errorf("failed to aggregate trade stats: %w", err)
	}
	pnl, err := decimal.NewFromString(total)
	if err != nil {
		return models.Stats{}, fmt.Errorf("invalid pnl %q: %w", total, err)
	}
	return models.NewStats(pnl, int(today), int(successes), int(tradesAll)), nil
}

func scanTrades(rows pgx.Rows) ([]models.Trade, error) {
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			trade                    models.Trade
			opportunity              []byte
			strategy, status, profit string
		)
		if err := rows.Scan(&trade.ID, &opportunity, &strategy, &status, &profit,
			&trade.Timestamp, &trade.TxHash, &trade.PostMortem); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if err := json.Unmarshal(opportunity, &trade.Opportunity); err != nil {
			return nil, fmt.Errorf("failed to decode opportunity for trade %s: %w", trade.ID, err)
		}
		p, err := decimal.NewFromString(profit)
		if err != nil {
			return nil, fmt.Errorf("invalid profit for trade %s: %w", trade.ID, err)
		}
		trade.Strategy = models.Strategy(strategy)
		trade.Status = models.TradeStatus(status)
		trade.Profit = p
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}
