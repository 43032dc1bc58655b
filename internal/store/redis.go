package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/outcomeamm/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for latest prices, the hottest read. Writes go to the primary store
// first and then refresh the cache; reads check Redis first then fall back
// to the primary. Concurrent misses for one market share a single primary
// read. Redis failures are logged and never fail a request.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	group   singleflight.Group
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SavePriceSnapshot(ctx context.Context, p *model.PriceSnapshot) error {
	if err := s.primary.SavePriceSnapshot(ctx, p); err != nil {
		return err
	}
	s.cachePrice(ctx, p)
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	// Invalidate the recent-trades cache for this market.
	if err := s.rdb.Del(ctx, tradesKey(t.MarketID)).Err(); err != nil {
		slog.Warn("redis invalidate failed", "key", tradesKey(t.MarketID), "error", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestPrice(ctx context.Context, marketID string) (*model.PriceSnapshot, error) {
	data, err := s.rdb.Get(ctx, priceKey(marketID)).Bytes()
	if err == nil {
		var p model.PriceSnapshot
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	v, err, _ := s.group.Do(priceKey(marketID), func() (any, error) {
		p, err := s.primary.LatestPrice(ctx, marketID)
		if err != nil {
			return nil, err
		}
		s.cachePrice(ctx, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*model.PriceSnapshot)
	return &p, nil
}

// ListTradesByMarket caches only the default page (limit > 0); full scans go
// straight to the primary.
func (s *CachedStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		return s.primary.ListTradesByMarket(ctx, marketID, limit)
	}
	key := tradesKey(marketID)
	field := fmt.Sprint(limit)

	data, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.ListTradesByMarket(ctx, marketID, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(trades); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, key, field, data)
		pipe.Expire(ctx, key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Debug("redis cache fill failed", "key", key, "error", err)
		}
	}
	return trades, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTradesByUser(ctx context.Context, trader string) ([]model.Trade, error) {
	return s.primary.ListTradesByUser(ctx, trader)
}

func (s *CachedStore) InsertLiquidityEvent(ctx context.Context, e *model.LiquidityEvent) error {
	return s.primary.InsertLiquidityEvent(ctx, e)
}

func (s *CachedStore) ListLiquidityEvents(ctx context.Context, marketID string) ([]model.LiquidityEvent, error) {
	return s.primary.ListLiquidityEvents(ctx, marketID)
}

func (s *CachedStore) PriceHistory(ctx context.Context, marketID string, since time.Time) ([]model.PriceSnapshot, error) {
	return s.primary.PriceHistory(ctx, marketID, since)
}

// --- Cache helpers ---

func (s *CachedStore) cachePrice(ctx context.Context, p *model.PriceSnapshot) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, priceKey(p.MarketID), data, s.ttl).Err(); err != nil {
		slog.Debug("redis cache fill failed", "key", priceKey(p.MarketID), "error", err)
	}
}

func priceKey(marketID string) string  { return fmt.Sprintf("amm:price:%s", marketID) }
func tradesKey(marketID string) string { return fmt.Sprintf("amm:trades:%s", marketID) }
