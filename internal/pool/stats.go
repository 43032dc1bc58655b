package pool

import (
	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/cpmm"
	"github.com/outcomeamm/market-engine/internal/fees"
	"github.com/outcomeamm/market-engine/internal/model"
)

// GetProviderStats composes a provider's position with its pending reward
// and APR. When the market has no pool or the trader never provided to it,
// ok is false and stats is the zero position.
func (s *Store) GetProviderStats(marketID, trader string) (stats model.LpStats, ok bool) {
	stats = emptyStats(marketID, trader)
	p, err := s.lookup(marketID)
	if err != nil {
		return stats, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, found := p.providers[trader]
	if !found {
		return stats, false
	}

	stats.LpTokens = pos.LpTokens
	stats.ContributedYes = pos.ContributedYes
	stats.ContributedNo = pos.ContributedNo
	stats.ClaimedRewards = pos.ClaimedRewards
	stats.JoinedAt = pos.JoinedAt
	if !pos.LpTokens.IsPositive() || !p.lpSupply.IsPositive() {
		return stats, true
	}

	provided := s.now().Sub(pos.JoinedAt)
	if provided < 0 {
		provided = 0
	}
	share := pos.LpTokens.Div(p.lpSupply)

	stats.TimeProvided = provided
	stats.ShareOfPool = share.Round(cpmm.Scale)
	stats.YesValue = p.yes.Mul(share).RoundFloor(cpmm.Scale)
	stats.NoValue = p.no.Mul(share).RoundFloor(cpmm.Scale)
	stats.LiquidityValue = stats.YesValue.Mul(cpmm.MarginalPrice(p.yes, p.no, model.SideYes)).
		Add(stats.NoValue.Mul(cpmm.MarginalPrice(p.yes, p.no, model.SideNo))).
		Round(cpmm.Scale)
	stats.PendingReward = s.cfg.Rewards.LpReward(p.rewardBasis(), pos.LpTokens, p.lpSupply, provided)
	stats.AprPercent = fees.Apr(stats.PendingReward, stats.LiquidityValue, provided)
	return stats, true
}

func emptyStats(marketID, trader string) model.LpStats {
	return model.LpStats{
		MarketID:       marketID,
		Trader:         trader,
		LpTokens:       decimal.Zero,
		ShareOfPool:    decimal.Zero,
		YesValue:       decimal.Zero,
		NoValue:        decimal.Zero,
		LiquidityValue: decimal.Zero,
		ContributedYes: decimal.Zero,
		ContributedNo:  decimal.Zero,
		PendingReward:  decimal.Zero,
		ClaimedRewards: decimal.Zero,
	}
}

// Markets returns the ids of all pools.
func (s *Store) Markets() []string {
	pools := s.Snapshots()
	ids := make([]string, len(pools))
	for i, p := range pools {
		ids[i] = p.MarketID
	}
	return ids
}

// MarkPrices returns the per-share value of YES and NO in a market: the
// marginal prices while it trades, 1 and 0 once resolved, 0.5 each when
// there is no seeded pool.
func (s *Store) MarkPrices(marketID string) (yesPrice, noPrice decimal.Decimal) {
	p, err := s.lookup(marketID)
	if err != nil {
		return half, half
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.resolved {
		if p.outcome == model.SideYes {
			return one, decimal.Zero
		}
		return decimal.Zero, one
	}
	if !p.yes.IsPositive() || !p.no.IsPositive() {
		return half, half
	}
	return cpmm.MarginalPrice(p.yes, p.no, model.SideYes), cpmm.MarginalPrice(p.yes, p.no, model.SideNo)
}
