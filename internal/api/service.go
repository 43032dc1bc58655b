// Package api exposes the AMM engine over HTTP: pool creation, trading,
// liquidity provision, price reads and portfolios. Every committed engine
// event is recorded through store.Store; trades and resolutions are also
// broadcast on the WebSocket hub.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/outcomeamm/market-engine/internal/limits"
	"github.com/outcomeamm/market-engine/internal/marketid"
	"github.com/outcomeamm/market-engine/internal/model"
	"github.com/outcomeamm/market-engine/internal/pool"
	"github.com/outcomeamm/market-engine/internal/store"
)

// DefaultTradesPage is the number of trades returned when no limit is given.
const DefaultTradesPage = 100

// DefaultFeeVolumeWindow is how far back a trader's own trades count toward
// the fee schedule's volume tiers.
const DefaultFeeVolumeWindow = 30 * 24 * time.Hour

// Service handles the HTTP surface of the engine. The pool store serializes
// mutations per market; the service only adds the exposure check, which
// holds limitMu so a trader's check and execution cannot interleave with
// another trade.
type Service struct {
	pools   *pool.Store
	store   store.Store
	limiter *limits.PositionLimiter
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
	log     *slog.Logger

	// feeVolumeWindow is the lookback for a trader's trailing volume.
	feeVolumeWindow time.Duration

	limitMu sync.Mutex

	// Idempotency-Key replay cache; nil disables it.
	idem     *lru.Cache[string, cachedResponse]
	inflight singleflight.Group
}

type cachedResponse struct {
	status int
	body   []byte
}

// Option customizes a Service.
type Option func(*Service)

// WithFeeVolumeWindow sets the trailing-volume lookback used for fee tiers.
func WithFeeVolumeWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.feeVolumeWindow = d
		}
	}
}

// NewService creates a new HTTP service. Pass nil for limiter or hub to
// disable them, and idempotencyCache <= 0 to disable Idempotency-Key
// replay.
func NewService(pools *pool.Store, st store.Store, limiter *limits.PositionLimiter, hub *WSHub, idempotencyCache int, opts ...Option) (*Service, error) {
	s := &Service{
		pools:           pools,
		store:           st,
		limiter:         limiter,
		wsHub:           hub,
		log:             slog.Default(),
		feeVolumeWindow: DefaultFeeVolumeWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if idempotencyCache > 0 {
		cache, err := lru.New[string, cachedResponse](idempotencyCache)
		if err != nil {
			return nil, err
		}
		s.idem = cache
	}
	return s, nil
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for POST /markets. A zero seed opens
// an empty pool that the first liquidity provider seeds.
type CreateMarketRequest struct {
	MarketID string          `json:"market_id"` // EVENT or EVENT:OUTCOME
	Seeder   string          `json:"seeder"`    // defaults to the protocol account
	SeedYes  decimal.Decimal `json:"seed_yes"`
	SeedNo   decimal.Decimal `json:"seed_no"`
}

// TradeRequest is the JSON body for POST /trade. The fee tier is derived
// from the trader's recorded volume, never from the request.
type TradeRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Side     string          `json:"side"`   // "YES" or "NO"
	Amount   decimal.Decimal `json:"amount"` // notional to spend, fees included
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	Receipt  model.TradeReceipt `json:"receipt"`
	Position model.Position     `json:"position"`
}

// ProvideLiquidityRequest is the JSON body for POST /liquidity/provide.
type ProvideLiquidityRequest struct {
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	YesAmount decimal.Decimal `json:"yes_amount"`
	NoAmount  decimal.Decimal `json:"no_amount"`
}

// RemoveLiquidityRequest is the JSON body for POST /liquidity/remove.
type RemoveLiquidityRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	LpTokens decimal.Decimal `json:"lp_tokens"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Outcome string `json:"outcome"` // "YES" or "NO"
}

// MarketSummary is one entry of GET /markets.
type MarketSummary struct {
	MarketID    string           `json:"market_id"`
	Event       string           `json:"event"`
	Price       model.PriceQuote `json:"price"`
	YesReserve  decimal.Decimal  `json:"yes_reserve"`
	NoReserve   decimal.Decimal  `json:"no_reserve"`
	LpSupply    decimal.Decimal  `json:"lp_supply"`
	TotalVolume decimal.Decimal  `json:"total_volume"`
	Resolved    bool             `json:"resolved"`
	CreatedAt   time.Time        `json:"created_at"`
}

// --- Helpers ---

// statusFor maps engine error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrUnknownSide),
		errors.Is(err, model.ErrInvalidIdentity),
		errors.Is(err, marketid.ErrInvalidMarketID):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrPoolNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPoolAlreadyExists),
		errors.Is(err, model.ErrInsufficientLiquidity),
		errors.Is(err, model.ErrInsufficientLpTokens),
		errors.Is(err, model.ErrMarketResolved),
		errors.Is(err, limits.ErrMarketLimitExceeded),
		errors.Is(err, limits.ErrEventLimitExceeded):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respond renders v as a JSON response.
func respond(status int, v any) cachedResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return cachedResponse{status: http.StatusInternalServerError, body: []byte(`{"error":"internal error"}`)}
	}
	return cachedResponse{status: status, body: body}
}

func (c cachedResponse) write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(c.status)
	w.Write(c.body)
}

// errorResponse renders err with its mapped status. Internal errors are
// logged and reported without detail.
func (s *Service) errorResponse(r *http.Request, err error) cachedResponse {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
		return respond(status, map[string]string{"error": "internal error"})
	}
	return respond(status, map[string]string{"error": err.Error()})
}

func (s *Service) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorResponse(r, err).write(w)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	respond(status, map[string]string{"error": message}).write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	respond(status, v).write(w)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// rejectReason is the metrics label for a failed trade.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, limits.ErrMarketLimitExceeded), errors.Is(err, limits.ErrEventLimitExceeded):
		return "position_limit"
	case errors.Is(err, model.ErrInsufficientLiquidity):
		return "liquidity"
	case errors.Is(err, model.ErrMarketResolved):
		return "resolved"
	case errors.Is(err, model.ErrPoolNotFound):
		return "not_found"
	}
	if statusFor(err) == http.StatusBadRequest {
		return "invalid"
	}
	return "internal"
}
