package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/cpmm"
	"github.com/outcomeamm/market-engine/internal/marketid"
	"github.com/outcomeamm/market-engine/internal/metrics"
	"github.com/outcomeamm/market-engine/internal/model"
)

// IdempotencyHeader names the request header that makes POST /trade safe
// to retry. Keys are scoped per user.
const IdempotencyHeader = "Idempotency-Key"

// ExecuteTrade handles POST /api/v1/trade.
//
// A request carrying an Idempotency-Key replays the stored response of the
// first successful trade with that key instead of trading again. Concurrent
// duplicates wait for the first one to finish.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	if key == "" || s.idem == nil {
		s.trade(r, req).write(w)
		return
	}
	key = req.UserID + "\x00" + key

	if cached, ok := s.idem.Get(key); ok {
		w.Header().Set("Idempotent-Replayed", "true")
		cached.write(w)
		return
	}
	v, _, _ := s.inflight.Do(key, func() (any, error) {
		if cached, ok := s.idem.Get(key); ok {
			return cached, nil
		}
		resp := s.trade(r, req)
		if resp.status == http.StatusOK {
			s.idem.Add(key, resp)
		}
		return resp, nil
	})
	v.(cachedResponse).write(w)
}

func (s *Service) trade(r *http.Request, req TradeRequest) cachedResponse {
	if req.UserID == "" {
		return respond(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	id, err := marketid.Parse(req.MarketID)
	if err != nil {
		return s.errorResponse(r, err)
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		return s.errorResponse(r, err)
	}
	if !req.Amount.IsPositive() {
		return respond(http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
	}

	start := time.Now()
	// Pool fills always take liquidity, so they pay the taker rate.
	receipt, err := s.execute(model.TradeRequest{
		MarketID:       id.Raw,
		Trader:         req.UserID,
		Side:           side,
		NotionalAmount: req.Amount,
		TrailingVolume: s.trailingVolume(r.Context(), req.UserID),
	})
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectReason(err)).Inc()
		return s.errorResponse(r, err)
	}

	ctx, cancel := persistContext(r)
	defer cancel()
	if err := s.store.InsertTrade(ctx, &model.Trade{
		ID:             receipt.TradeID,
		MarketID:       receipt.MarketID,
		Side:           receipt.Side,
		Trader:         receipt.Trader,
		NotionalAmount: receipt.NotionalAmount,
		ExecutionPrice: receipt.ExecutionPrice,
		FeeAmount:      receipt.FeeAmount,
		SharesOut:      receipt.SharesOut,
		Timestamp:      receipt.Timestamp,
	}); err != nil {
		s.persistFailed("trade", receipt.MarketID, err)
	}
	s.recordPrice(ctx, receipt.MarketID)

	sideLabel := side.String()
	metrics.TradesTotal.WithLabelValues(sideLabel).Inc()
	metrics.TradeLatency.WithLabelValues(sideLabel).Observe(time.Since(start).Seconds())
	metrics.FeesCollected.WithLabelValues(receipt.MarketID).Add(receipt.FeeAmount.InexactFloat64())
	metrics.MarketVolume.WithLabelValues(receipt.MarketID, sideLabel).Add(receipt.NotionalAmount.InexactFloat64())

	s.broadcast(WSMessage{
		Type:      "trade_executed",
		MarketID:  receipt.MarketID,
		YesPrice:  receipt.YesPrice.String(),
		NoPrice:   receipt.NoPrice.String(),
		Side:      sideLabel,
		Notional:  receipt.NotionalAmount.String(),
		SharesOut: receipt.SharesOut.String(),
		Timestamp: receipt.Timestamp,
	})

	s.log.Info("trade executed",
		"trade_id", receipt.TradeID,
		"market", receipt.MarketID,
		"user", receipt.Trader,
		"side", sideLabel,
		"amount", receipt.NotionalAmount.String(),
		"shares", receipt.SharesOut.String(),
		"fee", receipt.FeeAmount.String(),
	)

	return respond(http.StatusOK, TradeResponse{
		Receipt:  receipt,
		Position: s.pools.Ledger().GetPosition(receipt.MarketID, receipt.Trader),
	})
}

// trailingVolume sums the trader's recorded notional inside the fee volume
// window. A store failure falls back to zero, which charges the base rate.
func (s *Service) trailingVolume(ctx context.Context, trader string) decimal.Decimal {
	trades, err := s.store.ListTradesByUser(ctx, trader)
	if err != nil {
		s.log.Warn("trailing volume unavailable", "user", trader, "err", err)
		return decimal.Zero
	}
	since := time.Now().Add(-s.feeVolumeWindow)
	total := decimal.Zero
	for _, t := range trades {
		if !t.Timestamp.Before(since) {
			total = total.Add(t.NotionalAmount)
		}
	}
	return total
}

// execute runs the exposure check and the trade under limitMu, so the
// exposure the check saw is the one the trade lands on.
func (s *Service) execute(req model.TradeRequest) (model.TradeReceipt, error) {
	if !s.limiter.Enabled() {
		return s.pools.ExecuteTrade(req)
	}

	s.limitMu.Lock()
	defer s.limitMu.Unlock()

	quote, err := s.pools.QuoteTrade(req)
	if err != nil {
		return model.TradeReceipt{}, err
	}
	delta := quote.SharesOut
	if req.Side == model.SideNo {
		delta = delta.Neg()
	}
	if err := s.limiter.CheckLimit(req.MarketID, delta, s.pools.Ledger().Exposures(req.Trader)); err != nil {
		metrics.PositionLimitRejections.Inc()
		return model.TradeReceipt{}, err
	}
	return s.pools.ExecuteTrade(req)
}

// ProvideLiquidity handles POST /api/v1/liquidity/provide. A deposit into a
// market without a pool opens an empty one first, which the deposit then
// seeds.
func (s *Service) ProvideLiquidity(w http.ResponseWriter, r *http.Request) {
	var req ProvideLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	id, err := marketid.Parse(req.MarketID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !req.YesAmount.IsPositive() || !req.NoAmount.IsPositive() {
		writeError(w, "yes_amount and no_amount must be positive", http.StatusBadRequest)
		return
	}

	_, created, err := s.pools.EnsurePool(id.Raw, "", decimal.Zero, decimal.Zero)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if created {
		metrics.ActivePools.Inc()
		s.log.Info("market opened by liquidity provider", "market", id.Raw, "user", req.UserID)
	}

	receipt, err := s.pools.ProvideLiquidity(id.Raw, req.UserID, req.YesAmount, req.NoAmount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	ctx, cancel := persistContext(r)
	defer cancel()
	kind := model.LiquidityProvide
	if receipt.LpTokensMinted.Equal(receipt.LpSupply) {
		kind = model.LiquiditySeed
	}
	s.recordLiquidity(ctx, &model.LiquidityEvent{
		MarketID:  receipt.MarketID,
		Trader:    receipt.Trader,
		Kind:      kind,
		LpTokens:  receipt.LpTokensMinted,
		YesAmount: receipt.YesDeposited,
		NoAmount:  receipt.NoDeposited,
		Reward:    decimal.Zero,
		Timestamp: receipt.Timestamp,
	})
	s.recordPrice(ctx, receipt.MarketID)

	s.log.Info("liquidity provided",
		"market", receipt.MarketID,
		"user", receipt.Trader,
		"lp_minted", receipt.LpTokensMinted.String(),
	)
	writeJSON(w, http.StatusOK, receipt)
}

// RemoveLiquidity handles POST /api/v1/liquidity/remove.
func (s *Service) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req RemoveLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	receipt, err := s.pools.RemoveLiquidity(req.MarketID, req.UserID, req.LpTokens)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	ctx, cancel := persistContext(r)
	defer cancel()
	s.recordLiquidity(ctx, &model.LiquidityEvent{
		MarketID:  receipt.MarketID,
		Trader:    receipt.Trader,
		Kind:      model.LiquidityRemove,
		LpTokens:  receipt.LpTokensBurned,
		YesAmount: receipt.YesReturned,
		NoAmount:  receipt.NoReturned,
		Reward:    receipt.RewardRealized,
		Timestamp: receipt.Timestamp,
	})
	s.recordPrice(ctx, receipt.MarketID)

	s.log.Info("liquidity removed",
		"market", receipt.MarketID,
		"user", receipt.Trader,
		"lp_burned", receipt.LpTokensBurned.String(),
		"reward", receipt.RewardRealized.String(),
	)
	writeJSON(w, http.StatusOK, receipt)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}. Positions are marked
// at the pools' marginal prices; resolved markets pay 1 per winning share.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	positions := s.pools.Ledger().Positions(userID)
	if positions == nil {
		positions = []model.Position{}
	}

	invested := decimal.Zero
	value := decimal.Zero
	exposure := make(map[string]decimal.Decimal)
	for _, p := range positions {
		yesPrice, noPrice := s.pools.MarkPrices(p.MarketID)
		invested = invested.Add(p.TotalInvested)
		value = value.Add(p.YesShares.Mul(yesPrice)).Add(p.NoShares.Mul(noPrice))

		event := marketid.Event(p.MarketID)
		exposure[event] = exposure[event].Add(p.NetShares())
	}
	value = value.Round(cpmm.Scale)

	writeJSON(w, http.StatusOK, model.Portfolio{
		Trader:          userID,
		Positions:       positions,
		TotalInvested:   invested,
		CurrentValue:    value,
		UnrealizedPnL:   value.Sub(invested),
		ExposureByEvent: exposure,
	})
}
