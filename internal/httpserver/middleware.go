package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"lv-margin/internal/auth"
	"lv-margin/internal/httputil"
	"lv-margin/internal/model"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ctxKey string

const accountKeyKey ctxKey = "account_key"

// WithAuth resolves the bearer token to an account key. Tokens issued without
// a venue take it from the X-Venue header.
func WithAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Envelope{Message: "missing bearer token"})
				return
			}
			key, err := svc.ParseToken(strings.TrimSpace(parts[1]))
			if err != nil {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Envelope{Message: "invalid token"})
				return
			}
			if key.Venue == "" {
				key.Venue = strings.TrimSpace(r.Header.Get("X-Venue"))
			}
			if key.Venue == "" {
				httputil.BadRequest(w, "venue is required")
				return
			}
			ctx := context.WithValue(r.Context(), accountKeyKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func AccountKey(r *http.Request) (model.AccountKey, bool) {
	key, ok := r.Context().Value(accountKeyKey).(model.AccountKey)
	return key, ok
}

type accountHandler func(w http.ResponseWriter, r *http.Request, key model.AccountKey)

// account adapts a handler that needs the caller's account.
func account(h accountHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := AccountKey(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Envelope{Message: "unauthorized"})
			return
		}
		h(w, r, key)
	}
}

func InternalAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := svc.CheckInternal(strings.TrimSpace(r.Header.Get("X-Internal-Token"))); err != nil {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Envelope{Message: "invalid internal token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request at debug, or at warn for 5xx.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}
