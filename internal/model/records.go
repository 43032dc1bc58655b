package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LiquidityEventKind classifies a persisted liquidity change.
type LiquidityEventKind string

const (
	LiquiditySeed    LiquidityEventKind = "seed"
	LiquidityProvide LiquidityEventKind = "provide"
	LiquidityRemove  LiquidityEventKind = "remove"
)

// LiquidityEvent is the durable record of a committed provide, withdraw or
// pool seed.
type LiquidityEvent struct {
	ID        string             `json:"id"`
	MarketID  string             `json:"market_id"`
	Trader    string             `json:"trader"`
	Kind      LiquidityEventKind `json:"kind"`
	LpTokens  decimal.Decimal    `json:"lp_tokens"`
	YesAmount decimal.Decimal    `json:"yes_amount"`
	NoAmount  decimal.Decimal    `json:"no_amount"`
	Reward    decimal.Decimal    `json:"reward"`
	Timestamp time.Time          `json:"timestamp"`
}

// PriceSnapshot is one point of a market's price history, recorded after
// each committed trade.
type PriceSnapshot struct {
	MarketID   string          `json:"market_id"`
	YesPrice   decimal.Decimal `json:"yes_price"`
	NoPrice    decimal.Decimal `json:"no_price"`
	YesReserve decimal.Decimal `json:"yes_reserve"`
	NoReserve  decimal.Decimal `json:"no_reserve"`
	Timestamp  time.Time       `json:"timestamp"`
}
