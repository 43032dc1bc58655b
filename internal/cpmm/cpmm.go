// Package cpmm implements the constant-product pricing kernel for binary
// YES/NO markets.
//
// The curve is a fixed-product market maker over complete sets: a buy of
// side S with notional c mints c YES and c NO shares into the pool (one
// complete set is always worth exactly one unit of notional), then releases
// enough S shares to restore the product of the reserves:
//
//	newOther = other + c
//	newS     = k / newOther          (rounded up, in the pool's favour)
//	shares   = c + (S - newS)
//
// The marginal price of YES is noReserve / (yesReserve + noReserve), which
// stays inside (0, 1) for any positive reserves and sums to 1 with NO.
//
// All functions are pure and deterministic. Money is shopspring/decimal,
// rounded to Scale decimal places at every committed quantity.
package cpmm

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/model"
)

var (
	// Scale is the number of decimal places kept for reserves, shares and
	// LP tokens.
	Scale int32 = 8

	// MinPrice and MaxPrice bound the marginal price after a trade. A trade
	// that would move past them is rejected as InsufficientLiquidity.
	MinPrice = decimal.New(1, -3)
	MaxPrice = decimal.New(999, -3)

	half = decimal.New(5, -1)
)

// Quote is the result of pricing a trade against a reserve pair.
type Quote struct {
	Side           model.Side
	Notional       decimal.Decimal // amount that entered the curve
	SharesOut      decimal.Decimal // shares delivered to the trader
	SwapOut        decimal.Decimal // part of SharesOut taken from the pool's reserve
	ExecutionPrice decimal.Decimal // Notional / SharesOut
	NewYesReserve  decimal.Decimal
	NewNoReserve   decimal.Decimal
	PriceBefore    decimal.Decimal // marginal price of Side before the trade
	PriceAfter     decimal.Decimal // marginal price of Side after the trade
}

// K returns the constant-product invariant yes * no.
func K(yesReserve, noReserve decimal.Decimal) decimal.Decimal {
	return yesReserve.Mul(noReserve)
}

// MarginalPrice returns the instantaneous price of side. Empty reserves
// report the neutral 0.5.
func MarginalPrice(yesReserve, noReserve decimal.Decimal, side model.Side) decimal.Decimal {
	total := yesReserve.Add(noReserve)
	if !total.IsPositive() {
		return half
	}
	if side == model.SideNo {
		return yesReserve.Div(total)
	}
	return noReserve.Div(total)
}

// Swap prices a buy of side for notional against the given reserves.
func Swap(yesReserve, noReserve decimal.Decimal, side model.Side, notional decimal.Decimal) (Quote, error) {
	if !side.Valid() {
		return Quote{}, fmt.Errorf("%w: %s", model.ErrUnknownSide, side)
	}
	if !notional.IsPositive() {
		return Quote{}, fmt.Errorf("%w: notional %s", model.ErrInvalidAmount, notional)
	}
	if !yesReserve.IsPositive() || !noReserve.IsPositive() {
		return Quote{}, fmt.Errorf("%w: reserves %s/%s", model.ErrInsufficientLiquidity, yesReserve, noReserve)
	}

	out, in := yesReserve, noReserve
	if side == model.SideNo {
		out, in = noReserve, yesReserve
	}

	k := K(yesReserve, noReserve)
	newIn := in.Add(notional)
	newOut := k.Div(newIn).RoundCeil(Scale)
	if !newOut.IsPositive() {
		return Quote{}, fmt.Errorf("%w: trade would drain the %s reserve", model.ErrInsufficientLiquidity, side)
	}
	swapOut := out.Sub(newOut)
	if !swapOut.IsPositive() {
		return Quote{}, fmt.Errorf("%w: notional %s is below the pricing resolution", model.ErrInvalidAmount, notional)
	}

	newYes, newNo := newOut, newIn
	if side == model.SideNo {
		newYes, newNo = newIn, newOut
	}

	after := MarginalPrice(newYes, newNo, side)
	if after.GreaterThan(MaxPrice) {
		return Quote{}, fmt.Errorf("%w: %s price would reach %s", model.ErrInsufficientLiquidity, side, after.Round(Scale))
	}

	shares := notional.Add(swapOut)
	return Quote{
		Side:           side,
		Notional:       notional,
		SharesOut:      shares,
		SwapOut:        swapOut,
		ExecutionPrice: notional.Div(shares),
		NewYesReserve:  newYes,
		NewNoReserve:   newNo,
		PriceBefore:    MarginalPrice(yesReserve, noReserve, side),
		PriceAfter:     after,
	}, nil
}

// Mint is the outcome of adding liquidity to a pool.
type Mint struct {
	LpTokens  decimal.Decimal
	YesUsed   decimal.Decimal
	NoUsed    decimal.Decimal
	RefundYes decimal.Decimal
	RefundNo  decimal.Decimal
}

// MintLiquidity computes the LP tokens for a deposit. An empty pool mints
// floor(sqrt(yes*no)). Otherwise only the ratio-matched part of the deposit
// is used: the side with the smaller ratio to its reserve binds, the other
// side is pulled in proportionally and its excess refunded. Minted tokens
// are rounded down.
func MintLiquidity(yesReserve, noReserve, lpSupply, yesAmount, noAmount decimal.Decimal) (Mint, error) {
	if !yesAmount.IsPositive() || !noAmount.IsPositive() {
		return Mint{}, fmt.Errorf("%w: deposit %s/%s", model.ErrInvalidAmount, yesAmount, noAmount)
	}

	if !lpSupply.IsPositive() {
		lp := SqrtFloor(yesAmount.Mul(noAmount), Scale)
		if !lp.IsPositive() {
			return Mint{}, fmt.Errorf("%w: deposit too small to mint", model.ErrInvalidAmount)
		}
		return Mint{
			LpTokens:  lp,
			YesUsed:   yesAmount,
			NoUsed:    noAmount,
			RefundYes: decimal.Zero,
			RefundNo:  decimal.Zero,
		}, nil
	}

	if !yesReserve.IsPositive() || !noReserve.IsPositive() {
		return Mint{}, fmt.Errorf("%w: reserves %s/%s", model.ErrInsufficientLiquidity, yesReserve, noReserve)
	}

	// yesAmount/yesReserve <= noAmount/noReserve, cross-multiplied.
	yesBinds := yesAmount.Mul(noReserve).LessThanOrEqual(noAmount.Mul(yesReserve))

	var m Mint
	if yesBinds {
		m.YesUsed = yesAmount
		m.NoUsed = decimal.Min(noReserve.Mul(yesAmount).Div(yesReserve).RoundCeil(Scale), noAmount)
		m.LpTokens = lpSupply.Mul(yesAmount).Div(yesReserve).RoundFloor(Scale)
	} else {
		m.NoUsed = noAmount
		m.YesUsed = decimal.Min(yesReserve.Mul(noAmount).Div(noReserve).RoundCeil(Scale), yesAmount)
		m.LpTokens = lpSupply.Mul(noAmount).Div(noReserve).RoundFloor(Scale)
	}
	if !m.LpTokens.IsPositive() {
		return Mint{}, fmt.Errorf("%w: deposit too small to mint", model.ErrInvalidAmount)
	}
	m.RefundYes = yesAmount.Sub(m.YesUsed)
	m.RefundNo = noAmount.Sub(m.NoUsed)
	return m, nil
}

// BurnLiquidity returns the reserves owed for lpTokens out of lpSupply,
// rounded down. Burning the whole supply would drain the pool and is
// rejected.
func BurnLiquidity(yesReserve, noReserve, lpSupply, lpTokens decimal.Decimal) (yesOut, noOut decimal.Decimal, err error) {
	if !lpTokens.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: lp tokens %s", model.ErrInvalidAmount, lpTokens)
	}
	if lpTokens.GreaterThanOrEqual(lpSupply) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: cannot withdraw the entire pool", model.ErrInsufficientLiquidity)
	}
	yesOut = yesReserve.Mul(lpTokens).Div(lpSupply).RoundFloor(Scale)
	noOut = noReserve.Mul(lpTokens).Div(lpSupply).RoundFloor(Scale)
	return yesOut, noOut, nil
}

// SqrtFloor returns floor(sqrt(x)) truncated to scale decimal places.
// Non-positive input returns zero.
func SqrtFloor(x decimal.Decimal, scale int32) decimal.Decimal {
	if !x.IsPositive() {
		return decimal.Zero
	}
	scaled := x.Shift(2 * scale).BigInt()
	root := new(big.Int).Sqrt(scaled)
	return decimal.NewFromBigInt(root, -scale)
}
