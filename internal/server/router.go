// Package server assembles the HTTP router.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/auth"
	"github.com/previsao/market-api/internal/metrics"
	"github.com/previsao/market-api/internal/trade"
	"github.com/previsao/market-api/internal/wallet"
)

// Deps are the handlers mounted by NewRouter.
type Deps struct {
	Auth   *auth.Service
	Trade  *trade.Service
	Wallet *wallet.Handler
	Hub    *trade.WSHub
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// The WebSocket route sits outside the request timeout.
	if d.Hub != nil {
		r.Get("/ws", d.Hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/auth/register", d.Auth.HandleRegister)
		r.Post("/auth/login", d.Auth.HandleLogin)
		r.Post("/auth/logout", d.Auth.HandleLogout)

		r.Get("/markets", d.Trade.ListMarkets)
		r.Get("/markets/{marketId}", d.Trade.GetMarket)
		r.Get("/markets/{marketId}/orderbook", d.Trade.GetOrderbook)
		r.Get("/markets/{marketId}/trades", d.Trade.GetMarketTrades)

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Middleware)

			r.Get("/auth/me", d.Auth.HandleMe)

			r.Post("/orders", d.Trade.PlaceOrder)
			r.Get("/orders", d.Trade.ListOrders)
			r.Post("/orders/{orderId}/cancel", d.Trade.CancelOrder)
			r.Get("/positions", d.Trade.ListPositions)

			r.Get("/wallet/balance", d.Wallet.Balance)
			r.Post("/wallet/deposits/pix/create", d.Wallet.CreatePixDeposit)
			r.Get("/wallet/deposits/pix/{depositId}", d.Wallet.GetPixDeposit)
			r.Post("/wallet/withdrawals/pix/create", d.Wallet.CreatePixWithdrawal)
			r.Post("/dev/pix/deposits/{depositId}/complete", d.Wallet.CompletePixDeposit)

			// Back-office routes are reserved: admins get 501, everyone else 403.
			r.Route("/admin", func(r chi.Router) {
				r.Use(d.Auth.RequireAdmin)

				r.Post("/markets", notImplemented)
				r.Patch("/markets/{marketId}", notImplemented)
				r.Post("/markets/{marketId}/resolve", notImplemented)
				r.Post("/markets/{marketId}/cancel", notImplemented)
				r.Get("/kyc/cases", notImplemented)
				r.Patch("/kyc/cases/{kycCaseId}", notImplemented)
				r.Get("/users", notImplemented)
				r.Patch("/users/{userId}", notImplemented)
				r.Get("/audit", notImplemented)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperr.Write(w, r, apperr.NotFound("Route not found"))
	})
	return r
}

func notImplemented(w http.ResponseWriter, r *http.Request) {
	apperr.Write(w, r, apperr.NotImplemented("Endpoint not implemented yet"))
}

// cors allows the browser frontend to call the API cross-origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
