package model

import "errors"

// Error kinds raised by the engine. Callers match them with errors.Is; the
// engine wraps them with context but never replaces them.
var (
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amm: amount must be positive")

	// ErrUnknownSide is returned for any side other than YES or NO.
	ErrUnknownSide = errors.New("amm: side must be YES or NO")

	// ErrInvalidIdentity is returned for an empty market or trader id.
	ErrInvalidIdentity = errors.New("amm: market and trader ids must be non-empty")

	ErrPoolNotFound      = errors.New("amm: pool not found")
	ErrPoolAlreadyExists = errors.New("amm: pool already exists")

	// ErrInsufficientLiquidity is returned when a trade or withdrawal would
	// drain a reserve or push the price past its bounds.
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")

	// ErrInsufficientLpTokens is returned when a withdrawal exceeds holdings.
	ErrInsufficientLpTokens = errors.New("amm: insufficient lp tokens")

	// ErrMarketResolved is returned for mutations after resolution.
	ErrMarketResolved = errors.New("amm: market is resolved")
)
