// Package limits implements per-trader exposure caps that account for
// correlation between markets of the same event.
//
// Outcomes of one event (ELECTION-2028:DEM, ELECTION-2028:REP, ...) settle
// together, so a trader who buys YES across all of them carries one
// correlated risk. The limiter sums absolute net exposure across every
// market sharing an event and caps the aggregate.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/marketid"
)

var (
	// ErrMarketLimitExceeded is returned when a trade would push a single
	// market's net position beyond the per-market maximum.
	ErrMarketLimitExceeded = errors.New("limits: per-market position limit exceeded")

	// ErrEventLimitExceeded is returned when a trade would push the
	// aggregate exposure across one event's markets beyond the correlated
	// maximum.
	ErrEventLimitExceeded = errors.New("limits: correlated event exposure limit exceeded")
)

// PositionLimiter enforces position limits with correlation awareness.
// A zero limit disables that check.
type PositionLimiter struct {
	// MaxPerMarket is the maximum absolute net (yes - no) position in any
	// single market.
	MaxPerMarket decimal.Decimal

	// MaxPerEvent is the maximum aggregate absolute exposure across all
	// markets of the same event.
	MaxPerEvent decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given per-market and
// per-event exposure limits.
func NewPositionLimiter(maxPerMarket, maxPerEvent decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerMarket: maxPerMarket,
		MaxPerEvent:  maxPerEvent,
	}
}

// Enabled reports whether any limit is set.
func (l *PositionLimiter) Enabled() bool {
	return l != nil && (l.MaxPerMarket.IsPositive() || l.MaxPerEvent.IsPositive())
}

// CheckLimit validates whether a trade respects position limits.
//
// Parameters:
//   - targetMarket: id of the market being traded
//   - exposureDelta: signed change in exposure (+YES shares / -NO shares)
//   - existingExposures: market id → current net exposure for this trader
//
// Returns nil if the trade is within limits.
func (l *PositionLimiter) CheckLimit(
	targetMarket string,
	exposureDelta decimal.Decimal,
	existingExposures map[string]decimal.Decimal,
) error {
	if !l.Enabled() {
		return nil
	}

	newPosition := existingExposures[targetMarket].Add(exposureDelta)
	if l.MaxPerMarket.IsPositive() && newPosition.Abs().GreaterThan(l.MaxPerMarket) {
		return ErrMarketLimitExceeded
	}

	if !l.MaxPerEvent.IsPositive() {
		return nil
	}
	event := marketid.Event(targetMarket)
	total := newPosition.Abs()
	for id, exposure := range existingExposures {
		if id == targetMarket {
			continue // counted via newPosition
		}
		if marketid.Event(id) == event {
			total = total.Add(exposure.Abs())
		}
	}
	if total.GreaterThan(l.MaxPerEvent) {
		return ErrEventLimitExceeded
	}
	return nil
}
