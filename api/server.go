/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. Logger:     request logging
  2. Recoverer:  panic recovery (500 instead of crash)
  3. RequestID:  unique ID per request for tracing
  4. CORS:       cross-origin requests for the frontend
  5. Auth:       bearer-token identity (API routes only)

/health and /metrics sit outside the auth wrapper so probes and
scrapers need no credentials.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-User-Id"},
		ExposedHeaders:   []string{"Idempotency-Key"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Post("/signup", h.SignUp)
		r.Get("/wallets", h.ListWallets)
		r.Get("/transactions", h.ListTransactions)

		r.Post("/transfers", h.CreateTransfer)
		r.Post("/deposits", h.CreateDeposit)
		r.Post("/withdrawals", h.CreateWithdrawal)
	})

	return r
}
