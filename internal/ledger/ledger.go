// Package ledger tracks each trader's YES/NO share balances per market.
// Balances only ever grow through Credit, which the pool store calls while
// it holds the market's lock, so a credit is part of the trade's commit.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/model"
)

type key struct {
	market string
	trader string
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	positions map[key]*model.Position
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{positions: make(map[key]*model.Position)}
}

// Credit adds shares of side bought for notionalSpent.
func (l *Ledger) Credit(marketID, trader string, side model.Side, shares, notionalSpent decimal.Decimal) error {
	if !side.Valid() {
		return fmt.Errorf("%w: %s", model.ErrUnknownSide, side)
	}
	if shares.IsNegative() || notionalSpent.IsNegative() {
		return fmt.Errorf("%w: credit %s shares for %s", model.ErrInvalidAmount, shares, notionalSpent)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{marketID, trader}
	p, ok := l.positions[k]
	if !ok {
		p = &model.Position{MarketID: marketID, Trader: trader}
		l.positions[k] = p
	}
	if side == model.SideYes {
		p.YesShares = p.YesShares.Add(shares)
	} else {
		p.NoShares = p.NoShares.Add(shares)
	}
	p.TotalInvested = p.TotalInvested.Add(notionalSpent)
	return nil
}

// GetPosition returns the trader's balances in a market. A trader who never
// traded the market gets a zero position.
func (l *Ledger) GetPosition(marketID, trader string) model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p, ok := l.positions[key{marketID, trader}]; ok {
		return *p
	}
	return model.Position{MarketID: marketID, Trader: trader}
}

// Positions returns all of a trader's positions ordered by market id.
func (l *Ledger) Positions(trader string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.Position
	for k, p := range l.positions {
		if k.trader == trader {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// Exposures returns the trader's net (yes - no) shares per market.
func (l *Ledger) Exposures(trader string) map[string]decimal.Decimal {
	exposures := make(map[string]decimal.Decimal)
	for _, p := range l.Positions(trader) {
		exposures[p.MarketID] = p.NetShares()
	}
	return exposures
}
