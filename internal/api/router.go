package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/outcomeamm/market-engine/internal/metrics"
)

// RequestTimeout bounds every non-WebSocket request.
const RequestTimeout = 30 * time.Second

// NewRouter wires the service's handlers under /api/v1 together with
// /health and /metrics. hub may be nil, in which case /api/v1/ws is not
// mounted.
func NewRouter(svc *Service, hub *WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(svc.log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "market-engine"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(RequestTimeout))

			// Markets
			r.Get("/markets", svc.ListMarkets)
			r.Post("/markets", svc.CreateMarket)
			r.Get("/markets/{marketID}", svc.GetMarket)
			r.Get("/markets/{marketID}/price", svc.GetPrice)
			r.Get("/markets/{marketID}/history", svc.GetMarketHistory)
			r.Get("/markets/{marketID}/trades", svc.ListTrades)
			r.Post("/markets/{marketID}/resolve", svc.ResolveMarket)
			r.Get("/markets/{marketID}/providers/{userID}", svc.GetProviderStats)

			// Trading
			r.Post("/trade", svc.ExecuteTrade)

			// Liquidity
			r.Post("/liquidity/provide", svc.ProvideLiquidity)
			r.Post("/liquidity/remove", svc.RemoveLiquidity)

			// Portfolio
			r.Get("/portfolio/{userID}", svc.GetPortfolio)
		})
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+IdempotencyHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one structured line per request.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
