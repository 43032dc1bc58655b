package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/marketid"
	"github.com/outcomeamm/market-engine/internal/metrics"
	"github.com/outcomeamm/market-engine/internal/model"
	"github.com/outcomeamm/market-engine/internal/pool"
)

// persistTimeout bounds the writes that follow a committed engine event.
const persistTimeout = 5 * time.Second

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id, err := marketid.Parse(req.MarketID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	seeder := req.Seeder
	if seeder == "" {
		seeder = pool.ProtocolProvider
	}

	receipt, err := s.pools.CreatePool(id.Raw, seeder, req.SeedYes, req.SeedNo)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	metrics.ActivePools.Inc()

	ctx, cancel := persistContext(r)
	defer cancel()
	if receipt.LpTokensMinted.IsPositive() {
		s.recordLiquidity(ctx, &model.LiquidityEvent{
			MarketID:  receipt.MarketID,
			Trader:    receipt.Trader,
			Kind:      model.LiquiditySeed,
			LpTokens:  receipt.LpTokensMinted,
			YesAmount: receipt.YesDeposited,
			NoAmount:  receipt.NoDeposited,
			Reward:    decimal.Zero,
			Timestamp: receipt.Timestamp,
		})
		s.recordPrice(ctx, id.Raw)
	}

	s.log.Info("market created",
		"market", id.Raw,
		"seeder", seeder,
		"lp_minted", receipt.LpTokensMinted.String(),
	)
	writeJSON(w, http.StatusCreated, receipt)
}

// ListMarkets handles GET /api/v1/markets. ?event= narrows the list to the
// markets of one event.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	event := r.URL.Query().Get("event")

	out := []MarketSummary{}
	for _, p := range s.pools.Snapshots() {
		ev := marketid.Event(p.MarketID)
		if event != "" && !sameEvent(ev, event) {
			continue
		}
		out = append(out, MarketSummary{
			MarketID:    p.MarketID,
			Event:       ev,
			Price:       s.pools.GetCurrentPrice(p.MarketID),
			YesReserve:  p.YesReserve,
			NoReserve:   p.NoReserve,
			LpSupply:    p.LpSupply,
			TotalVolume: p.TotalVolume,
			Resolved:    p.Resolved,
			CreatedAt:   p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	snap, ok := s.pools.Snapshot(marketID)
	if !ok {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price. Unknown markets
// report the neutral quote with exists=false.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	writeJSON(w, http.StatusOK, s.pools.GetCurrentPrice(marketID))
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history?since=.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "since must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		since = t
	}

	history, err := s.store.PriceHistory(r.Context(), marketID, since)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if history == nil {
		history = []model.PriceSnapshot{}
	}
	writeJSON(w, http.StatusOK, history)
}

// ListTrades handles GET /api/v1/markets/{marketID}/trades?limit=.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	limit := DefaultTradesPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.store.ListTradesByMarket(r.Context(), marketID, limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	outcome, err := model.ParseSide(req.Outcome)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if err := s.pools.ResolveMarket(marketID, outcome); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	metrics.ActivePools.Dec()

	s.broadcast(WSMessage{
		Type:      "market_resolved",
		MarketID:  marketID,
		Outcome:   outcome.String(),
		Timestamp: time.Now().UTC(),
	})
	s.log.Info("market resolved", "market", marketID, "outcome", outcome.String())

	snap, _ := s.pools.Snapshot(marketID)
	writeJSON(w, http.StatusOK, snap)
}

// GetProviderStats handles GET /api/v1/markets/{marketID}/providers/{userID}.
// A trader without a position gets zeroed stats, like a price read on an
// unknown market.
func (s *Service) GetProviderStats(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	userID := chi.URLParam(r, "userID")

	stats, _ := s.pools.GetProviderStats(marketID, userID)
	writeJSON(w, http.StatusOK, stats)
}

// --- Recording ---

// persistContext detaches the writes that follow a commit from the client
// connection: the engine state has already changed.
func persistContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), persistTimeout)
}

// recordPrice snapshots the market's current price. Failures are logged and
// counted; the committed engine event stands.
func (s *Service) recordPrice(ctx context.Context, marketID string) {
	snap, ok := s.pools.PriceSnapshot(marketID)
	if !ok {
		return
	}
	if err := s.store.SavePriceSnapshot(ctx, &snap); err != nil {
		s.persistFailed("price", marketID, err)
	}
}

func (s *Service) recordLiquidity(ctx context.Context, e *model.LiquidityEvent) {
	e.ID = uuid.New().String()
	metrics.LiquidityEvents.WithLabelValues(string(e.Kind)).Inc()
	if err := s.store.InsertLiquidityEvent(ctx, e); err != nil {
		s.persistFailed("liquidity", e.MarketID, err)
	}
}

func (s *Service) persistFailed(record, marketID string, err error) {
	metrics.PersistenceErrors.WithLabelValues(record).Inc()
	s.log.Error("failed to persist record", "record", record, "market", marketID, "err", err)
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// sameEvent compares event keys, which marketid stores uppercased.
func sameEvent(a, b string) bool {
	return a == marketid.Event(b)
}
