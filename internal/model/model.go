// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of one executed swap, kept in the pool's
// bounded trade log.
type Trade struct {
	ID             string          `json:"id"`
	MarketID       string          `json:"market_id"`
	Side           Side            `json:"side"`
	Trader         string          `json:"trader"`
	NotionalAmount decimal.Decimal `json:"notional_amount"` // gross, before fees
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	SharesOut      decimal.Decimal `json:"shares_out"`
	Timestamp      time.Time       `json:"timestamp"`
}

// LpPosition is one provider's claim on one pool.
type LpPosition struct {
	Trader         string          `json:"trader"`
	LpTokens       decimal.Decimal `json:"lp_tokens"`
	ContributedYes decimal.Decimal `json:"contributed_yes"`
	ContributedNo  decimal.Decimal `json:"contributed_no"`
	JoinedAt       time.Time       `json:"joined_at"`
	ClaimedRewards decimal.Decimal `json:"claimed_rewards"`
}

// LiquidityPool is a committed, read-only copy of a market's pool.
// InvariantK is recomputed from the reserves on every snapshot.
type LiquidityPool struct {
	MarketID           string                `json:"market_id"`
	YesReserve         decimal.Decimal       `json:"yes_reserve"`
	NoReserve          decimal.Decimal       `json:"no_reserve"`
	InvariantK         decimal.Decimal       `json:"invariant_k"`
	LpSupply           decimal.Decimal       `json:"lp_supply"`
	Providers          map[string]LpPosition `json:"providers"`
	FeeAccumulator     decimal.Decimal       `json:"fee_accumulator"`
	RewardsDistributed decimal.Decimal       `json:"rewards_distributed"`
	Volume24h          decimal.Decimal       `json:"volume_24h"`
	TotalVolume        decimal.Decimal       `json:"total_volume"`
	TradeLog           []Trade               `json:"trade_log"`
	Resolved           bool                  `json:"resolved"`
	Outcome            Side                  `json:"outcome,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
}

// TradeRequest is what a request handler hands to the pool store.
type TradeRequest struct {
	MarketID       string          `json:"market_id"`
	Trader         string          `json:"trader"`
	Side           Side            `json:"side"`
	NotionalAmount decimal.Decimal `json:"notional_amount"`
	TrailingVolume decimal.Decimal `json:"trailing_volume"`
	IsMaker        bool            `json:"is_maker"`
}

// TradeReceipt is returned by a committed (or previewed) trade.
type TradeReceipt struct {
	TradeID        string          `json:"trade_id"`
	MarketID       string          `json:"market_id"`
	Trader         string          `json:"trader"`
	Side           Side            `json:"side"`
	NotionalAmount decimal.Decimal `json:"notional_amount"`
	NetNotional    decimal.Decimal `json:"net_notional"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	FeeRateBps     int64           `json:"fee_rate_bps"`
	RebateBps      int64           `json:"rebate_bps"`
	SharesOut      decimal.Decimal `json:"shares_out"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	YesPrice       decimal.Decimal `json:"yes_price"` // marginal, after the trade
	NoPrice        decimal.Decimal `json:"no_price"`
	YesReserve     decimal.Decimal `json:"yes_reserve"`
	NoReserve      decimal.Decimal `json:"no_reserve"`
	Timestamp      time.Time       `json:"timestamp"`
}

// LiquidityReceipt is returned by ProvideLiquidity and CreatePool.
type LiquidityReceipt struct {
	MarketID       string          `json:"market_id"`
	Trader         string          `json:"trader"`
	LpTokensMinted decimal.Decimal `json:"lp_tokens_minted"`
	YesDeposited   decimal.Decimal `json:"yes_deposited"`
	NoDeposited    decimal.Decimal `json:"no_deposited"`
	RefundYes      decimal.Decimal `json:"refund_yes"`
	RefundNo       decimal.Decimal `json:"refund_no"`
	LpSupply       decimal.Decimal `json:"lp_supply"`
	Timestamp      time.Time       `json:"timestamp"`
}

// WithdrawalReceipt is returned by RemoveLiquidity.
type WithdrawalReceipt struct {
	MarketID       string          `json:"market_id"`
	Trader         string          `json:"trader"`
	LpTokensBurned decimal.Decimal `json:"lp_tokens_burned"`
	YesReturned    decimal.Decimal `json:"yes_returned"`
	NoReturned     decimal.Decimal `json:"no_returned"`
	RewardRealized decimal.Decimal `json:"reward_realized"`
	LpSupply       decimal.Decimal `json:"lp_supply"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PriceQuote is the read-only price view of a pool. A market without a pool
// reports the neutral 50/50 quote with zero liquidity.
type PriceQuote struct {
	MarketID  string          `json:"market_id"`
	YesPrice  decimal.Decimal `json:"yes_price"`
	NoPrice   decimal.Decimal `json:"no_price"`
	Spread    decimal.Decimal `json:"spread"`
	Liquidity decimal.Decimal `json:"liquidity"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Exists    bool            `json:"exists"`
}

// LpStats composes a provider's position with its current reward and APR.
type LpStats struct {
	MarketID       string          `json:"market_id"`
	Trader         string          `json:"trader"`
	LpTokens       decimal.Decimal `json:"lp_tokens"`
	ShareOfPool    decimal.Decimal `json:"share_of_pool"`
	YesValue       decimal.Decimal `json:"yes_value"`
	NoValue        decimal.Decimal `json:"no_value"`
	LiquidityValue decimal.Decimal `json:"liquidity_value"`
	ContributedYes decimal.Decimal `json:"contributed_yes"`
	ContributedNo  decimal.Decimal `json:"contributed_no"`
	PendingReward  decimal.Decimal `json:"pending_reward"`
	ClaimedRewards decimal.Decimal `json:"claimed_rewards"`
	TimeProvided   time.Duration   `json:"time_provided"`
	AprPercent     float64         `json:"apr_percent"` // display only
	JoinedAt       time.Time       `json:"joined_at"`
}

// Position is a trader's share-class balance in one market.
type Position struct {
	MarketID      string          `json:"market_id"`
	Trader        string          `json:"trader"`
	YesShares     decimal.Decimal `json:"yes_shares"`
	NoShares      decimal.Decimal `json:"no_shares"`
	TotalInvested decimal.Decimal `json:"total_invested"`
}

// NetShares returns yes - no, the trader's directional exposure.
func (p Position) NetShares() decimal.Decimal {
	return p.YesShares.Sub(p.NoShares)
}

// Portfolio aggregates all positions for a trader, marked to the pools'
// marginal prices.
type Portfolio struct {
	Trader          string                     `json:"trader"`
	Positions       []Position                 `json:"positions"`
	TotalInvested   decimal.Decimal            `json:"total_invested"`
	CurrentValue    decimal.Decimal            `json:"current_value"`
	UnrealizedPnL   decimal.Decimal            `json:"unrealized_pnl"`
	ExposureByEvent map[string]decimal.Decimal `json:"exposure_by_event"`
}
