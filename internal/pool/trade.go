package pool

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/cpmm"
	"github.com/outcomeamm/market-engine/internal/fees"
	"github.com/outcomeamm/market-engine/internal/model"
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.New(5, -1)
)

// ExecuteTrade buys req.Side for req.NotionalAmount. The fee is taken first
// and only the net notional is priced on the curve. The fee stays in the
// pool as complete sets, so both reserves grow by it and the invariant
// strictly increases whenever the fee is positive.
func (s *Store) ExecuteTrade(req model.TradeRequest) (model.TradeReceipt, error) {
	if req.Trader == "" {
		return model.TradeReceipt{}, fmt.Errorf("%w: empty trader", model.ErrInvalidIdentity)
	}
	p, err := s.lookup(req.MarketID)
	if err != nil {
		return model.TradeReceipt{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := requireMutable(p); err != nil {
		return model.TradeReceipt{}, err
	}
	fee, q, err := s.price(p, req)
	if err != nil {
		return model.TradeReceipt{}, err
	}

	// The ledger credit is the only step that can fail, so it goes first.
	if err := s.ledger.Credit(req.MarketID, req.Trader, req.Side, q.SharesOut, req.NotionalAmount); err != nil {
		return model.TradeReceipt{}, err
	}

	now := s.now().UTC()
	p.yes = q.NewYesReserve.Add(fee.FeeAmount)
	p.no = q.NewNoReserve.Add(fee.FeeAmount)
	p.feeAccumulator = p.feeAccumulator.Add(fee.FeeAmount)
	p.totalVolume = p.totalVolume.Add(req.NotionalAmount)
	p.volume.add(now, req.NotionalAmount)

	t := model.Trade{
		ID:             uuid.New().String(),
		MarketID:       req.MarketID,
		Side:           req.Side,
		Trader:         req.Trader,
		NotionalAmount: req.NotionalAmount,
		ExecutionPrice: q.ExecutionPrice.Round(cpmm.Scale),
		FeeAmount:      fee.FeeAmount,
		SharesOut:      q.SharesOut,
		Timestamp:      now,
	}
	p.trades.push(t)

	s.log.Debug("trade executed",
		"trade_id", t.ID,
		"market", req.MarketID,
		"trader", req.Trader,
		"side", req.Side.String(),
		"notional", req.NotionalAmount.String(),
		"shares", q.SharesOut.String(),
		"fee", fee.FeeAmount.String(),
	)

	return s.receipt(t, fee, p), nil
}

// QuoteTrade prices req against the committed pool without changing it.
func (s *Store) QuoteTrade(req model.TradeRequest) (model.TradeReceipt, error) {
	p, err := s.lookup(req.MarketID)
	if err != nil {
		return model.TradeReceipt{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := requireMutable(p); err != nil {
		return model.TradeReceipt{}, err
	}
	fee, q, err := s.price(p, req)
	if err != nil {
		return model.TradeReceipt{}, err
	}

	preview := &poolState{
		yes: q.NewYesReserve.Add(fee.FeeAmount),
		no:  q.NewNoReserve.Add(fee.FeeAmount),
	}
	return s.receipt(model.Trade{
		MarketID:       req.MarketID,
		Side:           req.Side,
		Trader:         req.Trader,
		NotionalAmount: req.NotionalAmount,
		ExecutionPrice: q.ExecutionPrice.Round(cpmm.Scale),
		FeeAmount:      fee.FeeAmount,
		SharesOut:      q.SharesOut,
		Timestamp:      s.now().UTC(),
	}, fee, preview), nil
}

// price must be called with p.mu held.
func (s *Store) price(p *poolState, req model.TradeRequest) (fees.Fee, cpmm.Quote, error) {
	fee, err := s.cfg.Fees.TradingFee(req.NotionalAmount, req.Side, req.TrailingVolume, req.IsMaker)
	if err != nil {
		return fees.Fee{}, cpmm.Quote{}, err
	}
	q, err := cpmm.Swap(p.yes, p.no, req.Side, fee.NetNotional)
	if err != nil {
		return fees.Fee{}, cpmm.Quote{}, err
	}
	return fee, q, nil
}

func (s *Store) receipt(t model.Trade, fee fees.Fee, p *poolState) model.TradeReceipt {
	return model.TradeReceipt{
		TradeID:        t.ID,
		MarketID:       t.MarketID,
		Trader:         t.Trader,
		Side:           t.Side,
		NotionalAmount: t.NotionalAmount,
		NetNotional:    fee.NetNotional,
		FeeAmount:      fee.FeeAmount,
		FeeRateBps:     fee.FeeRateBps,
		RebateBps:      fee.RebateBps,
		SharesOut:      t.SharesOut,
		ExecutionPrice: t.ExecutionPrice,
		YesPrice:       cpmm.MarginalPrice(p.yes, p.no, model.SideYes).Round(cpmm.Scale),
		NoPrice:        cpmm.MarginalPrice(p.yes, p.no, model.SideNo).Round(cpmm.Scale),
		YesReserve:     p.yes,
		NoReserve:      p.no,
		Timestamp:      t.Timestamp,
	}
}

// GetCurrentPrice quotes both sides with a fee-free probe trade of
// Config.ProbeNotional. Nothing is committed. A market without a pool, or a
// pool not yet seeded, reports the neutral 0.5/0.5 quote. When a probe
// cannot be priced (the pool is too thin for it) the marginal price is used
// for that side instead.
func (s *Store) GetCurrentPrice(marketID string) model.PriceQuote {
	p, err := s.lookup(marketID)
	if err != nil {
		return neutralQuote(marketID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return s.quote(marketID, p)
}

// PriceSnapshot captures the current quote together with the reserves it
// was computed from. ok is false when the market has no pool.
func (s *Store) PriceSnapshot(marketID string) (snap model.PriceSnapshot, ok bool) {
	p, err := s.lookup(marketID)
	if err != nil {
		return model.PriceSnapshot{}, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	q := s.quote(marketID, p)
	return model.PriceSnapshot{
		MarketID:   marketID,
		YesPrice:   q.YesPrice,
		NoPrice:    q.NoPrice,
		YesReserve: p.yes,
		NoReserve:  p.no,
		Timestamp:  s.now().UTC(),
	}, true
}

func neutralQuote(marketID string) model.PriceQuote {
	return model.PriceQuote{
		MarketID:  marketID,
		YesPrice:  half,
		NoPrice:   half,
		Spread:    decimal.Zero,
		Liquidity: decimal.Zero,
		Volume24h: decimal.Zero,
	}
}

// quote prices p. The caller holds p.mu.
func (s *Store) quote(marketID string, p *poolState) model.PriceQuote {
	neutral := neutralQuote(marketID)
	neutral.Exists = true
	neutral.Volume24h = p.volume.total(s.now())
	if !p.yes.IsPositive() || !p.no.IsPositive() {
		return neutral
	}

	probe := func(side model.Side) decimal.Decimal {
		q, err := cpmm.Swap(p.yes, p.no, side, s.cfg.ProbeNotional)
		if err != nil {
			return cpmm.MarginalPrice(p.yes, p.no, side)
		}
		return q.ExecutionPrice
	}
	yesPrice := probe(model.SideYes).Round(cpmm.Scale)
	noPrice := probe(model.SideNo).Round(cpmm.Scale)

	spread := yesPrice.Add(noPrice).Sub(one)
	if spread.IsNegative() {
		spread = decimal.Zero
	}
	liquidity := p.yes.Mul(cpmm.MarginalPrice(p.yes, p.no, model.SideYes)).
		Add(p.no.Mul(cpmm.MarginalPrice(p.yes, p.no, model.SideNo))).
		Round(cpmm.Scale)

	return model.PriceQuote{
		MarketID:  marketID,
		YesPrice:  yesPrice,
		NoPrice:   noPrice,
		Spread:    spread,
		Liquidity: liquidity,
		Volume24h: neutral.Volume24h,
		Exists:    true,
	}
}
