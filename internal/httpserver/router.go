package httpserver

import (
	"net/http"

	"lv-margin/internal/accounts"
	"lv-margin/internal/auth"
	"lv-margin/internal/health"
	"lv-margin/internal/loans"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/orders"
	"lv-margin/internal/positions"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RouterDeps carries every handler the API mounts. WSHandler and
// MetricsHandler are optional.
type RouterDeps struct {
	AuthHandler      *auth.Handler
	AccountsHandler  *accounts.Handler
	PositionsHandler *positions.Handler
	OrderHandler     *orders.Handler
	LoansHandler     *loans.Handler
	MarketHandler    *marketdata.Handler
	HealthHandler    *health.Handler
	AuthService      *auth.Service
	WSHandler        http.Handler
	MetricsHandler   http.Handler
	RateLimiter      *RateLimiter
	AllowedOrigin    string
	Logger           *zap.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if d.Logger != nil {
		r.Use(RequestLogger(d.Logger))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || (d.AllowedOrigin != "" && !allowOrigin(r, d.AllowedOrigin)) {
				origin = d.AllowedOrigin
			}
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Venue")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	r.Get("/health/full", d.HealthHandler.Full)
	if d.MetricsHandler != nil {
		r.With(InternalAuth(d.AuthService)).Handle("/metrics", d.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/prices/{instrument}", d.MarketHandler.Price)
		if d.WSHandler != nil {
			r.Get("/ws", d.WSHandler.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.AuthService))
			r.Post("/internal/token", d.AuthHandler.Token)
		})
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", account(d.AuthHandler.Me))
			r.Get("/account", account(d.AccountsHandler.Get))

			r.Get("/positions", account(d.PositionsHandler.List))
			r.Post("/positions/close-all", account(d.PositionsHandler.CloseAll))
			r.Post("/positions/triggers", account(d.PositionsHandler.SetTriggers))
			r.Get("/positions/liquidation-price", account(d.PositionsHandler.LiquidationPrice))

			r.Post("/orders", account(d.OrderHandler.Place))
			r.Get("/orders", account(d.OrderHandler.ListPending))
			r.Get("/orders/history", account(d.OrderHandler.History))
			r.Get("/orders/{orderID}", account(d.OrderHandler.Get))
			r.Delete("/orders/{orderID}", account(d.OrderHandler.Cancel))

			r.Post("/loans/borrow", account(d.LoansHandler.Borrow))
			r.Post("/loans/repay", account(d.LoansHandler.Repay))
			r.Get("/loans/bill", account(d.LoansHandler.Bill))
		})
	})
	return r
}
