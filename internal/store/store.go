// Package store defines the persistence interface for the market engine.
// The engine itself keeps all live state in memory; this layer records what
// it committed: trades, liquidity events and price history. Implementations
// include PostgreSQL (durable record), Redis (read-through cache for latest
// prices) and in-memory (tests and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/outcomeamm/market-engine/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// --- Trades ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTradesByMarket returns up to limit of the most recent trades of a
	// market, oldest first. limit <= 0 returns all of them.
	ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error)

	// ListTradesByUser returns all trades of a trader, oldest first.
	ListTradesByUser(ctx context.Context, trader string) ([]model.Trade, error)

	// --- Liquidity ---

	// InsertLiquidityEvent appends an immutable liquidity record.
	InsertLiquidityEvent(ctx context.Context, e *model.LiquidityEvent) error

	// ListLiquidityEvents returns all liquidity records of a market, oldest
	// first.
	ListLiquidityEvents(ctx context.Context, marketID string) ([]model.LiquidityEvent, error)

	// --- Price history ---

	// SavePriceSnapshot records a market's price after a commit.
	SavePriceSnapshot(ctx context.Context, p *model.PriceSnapshot) error

	// LatestPrice returns the most recent snapshot or ErrNotFound.
	LatestPrice(ctx context.Context, marketID string) (*model.PriceSnapshot, error)

	// PriceHistory returns the snapshots taken at or after since, oldest
	// first.
	PriceHistory(ctx context.Context, marketID string, since time.Time) ([]model.PriceSnapshot, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
