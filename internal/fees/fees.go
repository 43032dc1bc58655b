// Package fees computes trading fees with volume-tiered rebates and the
// time-weighted rewards owed to liquidity providers. Everything here is a
// pure function of its inputs.
package fees

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/model"
)

// BpsDenominator converts basis points to a fraction.
const BpsDenominator = 10000

// Scale is the number of decimal places kept for fee and reward amounts.
var Scale int32 = 8

var (
	ErrInvalidSchedule = errors.New("fees: invalid fee schedule")

	bpsDen = decimal.NewFromInt(BpsDenominator)
)

// Tier grants RebateBps to traders whose trailing volume is at least
// MinVolume.
type Tier struct {
	MinVolume decimal.Decimal `json:"min_volume" yaml:"min_volume"`
	RebateBps int64           `json:"rebate_bps" yaml:"rebate_bps"`
}

// Schedule is the fee-tier table supplied at construction time. Takers pay
// BaseFeeBps, makers pay MakerFeeBps (never more than BaseFeeBps); both are
// reduced by the rebate of the highest tier the trader qualifies for.
type Schedule struct {
	BaseFeeBps  int64  `json:"base_fee_bps" yaml:"base_fee_bps"`
	MakerFeeBps int64  `json:"maker_fee_bps" yaml:"maker_fee_bps"`
	Tiers       []Tier `json:"tiers" yaml:"tiers"`
}

// DefaultSchedule is a 30bps taker / 20bps maker schedule with rebates at
// 10k, 25k, 100k and 1M of trailing volume.
func DefaultSchedule() Schedule {
	return Schedule{
		BaseFeeBps:  30,
		MakerFeeBps: 20,
		Tiers: []Tier{
			{MinVolume: decimal.NewFromInt(10_000), RebateBps: 5},
			{MinVolume: decimal.NewFromInt(25_000), RebateBps: 10},
			{MinVolume: decimal.NewFromInt(100_000), RebateBps: 15},
			{MinVolume: decimal.NewFromInt(1_000_000), RebateBps: 20},
		},
	}
}

// Validate checks the schedule and sorts its tiers by MinVolume. Rebates
// must not decrease as volume grows, which is what makes the effective fee
// non-increasing in trailing volume.
func (s *Schedule) Validate() error {
	if s.BaseFeeBps < 0 || s.BaseFeeBps > BpsDenominator {
		return fmt.Errorf("%w: base fee %d bps out of range", ErrInvalidSchedule, s.BaseFeeBps)
	}
	if s.MakerFeeBps < 0 || s.MakerFeeBps > s.BaseFeeBps {
		return fmt.Errorf("%w: maker fee %d bps must be within [0, %d]", ErrInvalidSchedule, s.MakerFeeBps, s.BaseFeeBps)
	}
	sort.SliceStable(s.Tiers, func(i, j int) bool {
		return s.Tiers[i].MinVolume.LessThan(s.Tiers[j].MinVolume)
	})
	for i, t := range s.Tiers {
		if t.MinVolume.IsNegative() || t.RebateBps < 0 {
			return fmt.Errorf("%w: tier %d has negative values", ErrInvalidSchedule, i)
		}
		if i > 0 && t.RebateBps < s.Tiers[i-1].RebateBps {
			return fmt.Errorf("%w: rebate must not decrease with volume (tier %d)", ErrInvalidSchedule, i)
		}
	}
	return nil
}

// RebateBps returns the rebate for a trailing volume.
func (s Schedule) RebateBps(trailingVolume decimal.Decimal) int64 {
	var rebate int64
	for _, t := range s.Tiers {
		if trailingVolume.GreaterThanOrEqual(t.MinVolume) && t.RebateBps > rebate {
			rebate = t.RebateBps
		}
	}
	return rebate
}

// Fee is the breakdown of a trading fee.
type Fee struct {
	NetNotional decimal.Decimal
	FeeAmount   decimal.Decimal
	FeeRateBps  int64
	RebateBps   int64
}

// TradingFee computes the fee on notional:
//
//	feeAmount   = notional * max(feeRateBps - rebateBps, 0) / 10000
//	netNotional = notional - feeAmount
//
// The fee is rounded up at Scale so the pool never under-collects.
func (s Schedule) TradingFee(notional decimal.Decimal, side model.Side, trailingVolume decimal.Decimal, isMaker bool) (Fee, error) {
	if !side.Valid() {
		return Fee{}, fmt.Errorf("%w: %s", model.ErrUnknownSide, side)
	}
	if !notional.IsPositive() {
		return Fee{}, fmt.Errorf("%w: notional %s", model.ErrInvalidAmount, notional)
	}
	if trailingVolume.IsNegative() {
		return Fee{}, fmt.Errorf("%w: trailing volume %s", model.ErrInvalidAmount, trailingVolume)
	}

	rate := s.BaseFeeBps
	if isMaker {
		rate = s.MakerFeeBps
	}
	rebate := s.RebateBps(trailingVolume)

	effective := rate - rebate
	if effective < 0 {
		effective = 0
	}
	fee := notional.Mul(decimal.NewFromInt(effective)).Div(bpsDen).RoundCeil(Scale)
	if fee.GreaterThan(notional) {
		fee = notional
	}

	return Fee{
		NetNotional: notional.Sub(fee),
		FeeAmount:   fee,
		FeeRateBps:  rate,
		RebateBps:   rebate,
	}, nil
}

// RewardCurve weights provider rewards by how long liquidity has been in
// the pool: a linear ramp from 0 to 1 over Vesting, flat afterwards.
type RewardCurve struct {
	Vesting time.Duration
}

// DefaultRewardCurve vests rewards fully after seven days.
func DefaultRewardCurve() RewardCurve {
	return RewardCurve{Vesting: 7 * 24 * time.Hour}
}

// Weight returns the time weight in [0, 1]. A non-positive Vesting disables
// time weighting.
func (c RewardCurve) Weight(provided time.Duration) decimal.Decimal {
	if c.Vesting <= 0 || provided >= c.Vesting {
		return decimal.NewFromInt(1)
	}
	if provided <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(provided)).Div(decimal.NewFromInt(int64(c.Vesting)))
}

// LpReward returns the provider's reward out of feePool:
//
//	reward = feePool * providerLiquidity / poolTotalLiquidity * weight(provided)
//
// It is non-decreasing in providerLiquidity and provided, and never exceeds
// the provider's pro-rata share of feePool. Rounded down at Scale.
func (c RewardCurve) LpReward(feePool, providerLiquidity, poolTotalLiquidity decimal.Decimal, provided time.Duration) decimal.Decimal {
	if !feePool.IsPositive() || !providerLiquidity.IsPositive() || !poolTotalLiquidity.IsPositive() {
		return decimal.Zero
	}
	if providerLiquidity.GreaterThan(poolTotalLiquidity) {
		providerLiquidity = poolTotalLiquidity
	}
	share := feePool.Mul(providerLiquidity).Div(poolTotalLiquidity)
	return share.Mul(c.Weight(provided)).RoundFloor(Scale)
}

const secondsPerYear = 365 * 24 * 60 * 60

// Apr annualizes reward over provided relative to providerLiquidity, as a
// percentage. Display only. Returns 0 when either input is zero.
func Apr(reward, providerLiquidity decimal.Decimal, provided time.Duration) float64 {
	seconds := int64(provided / time.Second)
	if seconds <= 0 || !providerLiquidity.IsPositive() {
		return 0
	}
	yearly := reward.Div(providerLiquidity).Mul(decimal.NewFromInt(secondsPerYear)).Div(decimal.NewFromInt(seconds))
	return yearly.Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
}
