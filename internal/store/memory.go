package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/outcomeamm/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	trades    []model.Trade
	liquidity []model.LiquidityEvent
	prices    map[string][]model.PriceSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices: make(map[string][]model.PriceSnapshot),
	}
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTradesByMarket(_ context.Context, marketID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, trader string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.Trader == trader {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertLiquidityEvent(_ context.Context, e *model.LiquidityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.liquidity = append(s.liquidity, *e)
	return nil
}

func (s *MemoryStore) ListLiquidityEvents(_ context.Context, marketID string) ([]model.LiquidityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LiquidityEvent
	for _, e := range s.liquidity {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) SavePriceSnapshot(_ context.Context, p *model.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[p.MarketID] = append(s.prices[p.MarketID], *p)
	return nil
}

func (s *MemoryStore) LatestPrice(_ context.Context, marketID string) (*model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.prices[marketID]
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: price for %s", ErrNotFound, marketID)
	}
	latest := history[len(history)-1]
	return &latest, nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, marketID string, since time.Time) ([]model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PriceSnapshot
	for _, p := range s.prices[marketID] {
		if !p.Timestamp.Before(since) {
			result = append(result, p)
		}
	}
	return result, nil
}
