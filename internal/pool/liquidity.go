package pool

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/cpmm"
	"github.com/outcomeamm/market-engine/internal/model"
)

// ProvideLiquidity deposits YES and NO shares into a pool. Only the
// ratio-matched part of the deposit enters the reserves; the excess of the
// over-supplied side comes back in the receipt's refund fields.
func (s *Store) ProvideLiquidity(marketID, trader string, yesAmount, noAmount decimal.Decimal) (model.LiquidityReceipt, error) {
	if trader == "" {
		return model.LiquidityReceipt{}, fmt.Errorf("%w: empty trader", model.ErrInvalidIdentity)
	}
	p, err := s.lookup(marketID)
	if err != nil {
		return model.LiquidityReceipt{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := requireMutable(p); err != nil {
		return model.LiquidityReceipt{}, err
	}
	m, err := cpmm.MintLiquidity(p.yes, p.no, p.lpSupply, yesAmount, noAmount)
	if err != nil {
		return model.LiquidityReceipt{}, err
	}

	now := s.now().UTC()
	pos, ok := p.providers[trader]
	if !ok {
		pos = &model.LpPosition{Trader: trader}
		p.providers[trader] = pos
	}
	// A provider coming back after a full exit starts a fresh vesting period.
	// A top-up moves the join time toward now in proportion to the tokens
	// added, so new tokens never inherit the vesting of old ones.
	if !pos.LpTokens.IsPositive() {
		pos.JoinedAt = now
	} else {
		pos.JoinedAt = blendJoinedAt(pos.JoinedAt, pos.LpTokens, now, m.LpTokens)
	}
	pos.LpTokens = pos.LpTokens.Add(m.LpTokens)
	pos.ContributedYes = pos.ContributedYes.Add(m.YesUsed)
	pos.ContributedNo = pos.ContributedNo.Add(m.NoUsed)

	p.yes = p.yes.Add(m.YesUsed)
	p.no = p.no.Add(m.NoUsed)
	p.lpSupply = p.lpSupply.Add(m.LpTokens)

	s.log.Debug("liquidity provided",
		"market", marketID,
		"trader", trader,
		"lp_minted", m.LpTokens.String(),
		"refund_yes", m.RefundYes.String(),
		"refund_no", m.RefundNo.String(),
	)

	return model.LiquidityReceipt{
		MarketID:       marketID,
		Trader:         trader,
		LpTokensMinted: m.LpTokens,
		YesDeposited:   m.YesUsed,
		NoDeposited:    m.NoUsed,
		RefundYes:      m.RefundYes,
		RefundNo:       m.RefundNo,
		LpSupply:       p.lpSupply,
		Timestamp:      now,
	}, nil
}

// RemoveLiquidity burns lpTokens of the trader's position and returns the
// proportional share of both reserves. The reward earned by the burned
// tokens is realized at the same time and added to ClaimedRewards.
func (s *Store) RemoveLiquidity(marketID, trader string, lpTokens decimal.Decimal) (model.WithdrawalReceipt, error) {
	p, err := s.lookup(marketID)
	if err != nil {
		return model.WithdrawalReceipt{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := requireMutable(p); err != nil {
		return model.WithdrawalReceipt{}, err
	}
	if !lpTokens.IsPositive() {
		return model.WithdrawalReceipt{}, fmt.Errorf("%w: lp tokens %s", model.ErrInvalidAmount, lpTokens)
	}
	pos, ok := p.providers[trader]
	if !ok || lpTokens.GreaterThan(pos.LpTokens) {
		held := decimal.Zero
		if ok {
			held = pos.LpTokens
		}
		return model.WithdrawalReceipt{}, fmt.Errorf("%w: requested %s, held %s", model.ErrInsufficientLpTokens, lpTokens, held)
	}

	yesOut, noOut, err := cpmm.BurnLiquidity(p.yes, p.no, p.lpSupply, lpTokens)
	if err != nil {
		return model.WithdrawalReceipt{}, err
	}

	now := s.now().UTC()
	reward := s.cfg.Rewards.LpReward(p.rewardBasis(), lpTokens, p.lpSupply, now.Sub(pos.JoinedAt))

	p.yes = p.yes.Sub(yesOut)
	p.no = p.no.Sub(noOut)
	p.lpSupply = p.lpSupply.Sub(lpTokens)
	p.rewardsDistributed = p.rewardsDistributed.Add(reward)

	pos.LpTokens = pos.LpTokens.Sub(lpTokens)
	pos.ClaimedRewards = pos.ClaimedRewards.Add(reward)

	s.log.Debug("liquidity removed",
		"market", marketID,
		"trader", trader,
		"lp_burned", lpTokens.String(),
		"yes_out", yesOut.String(),
		"no_out", noOut.String(),
		"reward", reward.String(),
	)

	return model.WithdrawalReceipt{
		MarketID:       marketID,
		Trader:         trader,
		LpTokensBurned: lpTokens,
		YesReturned:    yesOut,
		NoReturned:     noOut,
		RewardRealized: reward,
		LpSupply:       p.lpSupply,
		Timestamp:      now,
	}, nil
}

// rewardBasis is the part of the collected fees not yet paid out as rewards.
func (p *poolState) rewardBasis() decimal.Decimal {
	basis := p.feeAccumulator.Sub(p.rewardsDistributed)
	if basis.IsNegative() {
		return decimal.Zero
	}
	return basis
}

// blendJoinedAt is the LP-weighted mean of joinedAt over held tokens and
// now over minted tokens.
func blendJoinedAt(joinedAt time.Time, held decimal.Decimal, now time.Time, minted decimal.Decimal) time.Time {
	elapsed := now.Sub(joinedAt)
	if elapsed <= 0 || !minted.IsPositive() {
		return joinedAt
	}
	shift := decimal.NewFromInt(int64(elapsed)).Mul(minted).Div(held.Add(minted)).IntPart()
	return joinedAt.Add(time.Duration(shift))
}
