package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lv-margin/internal/accounts"
	"lv-margin/internal/apperr"
	"lv-margin/internal/auth"
	"lv-margin/internal/health"
	"lv-margin/internal/ledger"
	"lv-margin/internal/loans"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/model"
	"lv-margin/internal/orders"
	"lv-margin/internal/positions"
	"lv-margin/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type fixedSource map[string]decimal.Decimal

func (s fixedSource) Fetch(_ context.Context, instrument string) (decimal.Decimal, error) {
	if p, ok := s[instrument]; ok {
		return p, nil
	}
	return decimal.Zero, apperr.ErrPriceUnavailable
}

type apiFixture struct {
	handler http.Handler
	auth    *auth.Service
}

func newAPI(t *testing.T) *apiFixture {
	logger := zaptest.NewLogger(t)
	store := ledger.NewMemoryStore()
	params := risk.DefaultParams()
	feed := marketdata.NewFeed(fixedSource{
		"BTCUSDT": decimal.NewFromInt(100000),
		"ETHUSDT": decimal.NewFromInt(3000),
	}, nil, store, marketdata.FeedConfig{}, logger, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("internal"), bcrypt.MinCost)
	require.NoError(t, err)
	authSvc := auth.NewService("margin", []byte("secret"), time.Hour, string(hash))
	accountSvc := accounts.NewService(store, params, logger)
	positionSvc := positions.NewService(store, accountSvc, feed, params, logger)
	orderSvc := orders.NewService(store, accountSvc, positionSvc, feed, params, logger)
	loanSvc := loans.NewService(store, accountSvc, params, logger)

	h := NewRouter(RouterDeps{
		AuthHandler:      auth.NewHandler(authSvc),
		AccountsHandler:  accounts.NewHandler(accountSvc),
		PositionsHandler: positions.NewHandler(positionSvc),
		OrderHandler:     orders.NewHandler(orderSvc),
		LoansHandler:     loans.NewHandler(loanSvc),
		MarketHandler:    marketdata.NewHandler(feed),
		HealthHandler:    health.NewHandler(store, nil, nil, authSvc.CheckInternal, time.Now(), "development", ":0"),
		AuthService:      authSvc,
		MetricsHandler:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		Logger:           logger,
	})
	return &apiFixture{handler: h, auth: authSvc}
}

func (f *apiFixture) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var env map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func (f *apiFixture) token(t *testing.T) string {
	t.Helper()
	tok, _, err := f.auth.Issue(model.AccountKey{UserID: "u1", Venue: "g1"})
	require.NoError(t, err)
	return tok
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	api := newAPI(t)
	rec, _ := api.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = api.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec, _ = api.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Internal-Token", "internal")
	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAccountRoutesRequireToken(t *testing.T) {
	api := newAPI(t)
	rec, _ := api.do(t, http.MethodGet, "/v1/account", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = api.do(t, http.MethodGet, "/v1/account", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := api.do(t, http.MethodGet, "/v1/account", "", api.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	data := env["data"].(map[string]any)
	assert.Equal(t, "10000", data["balance"])
	assert.Equal(t, "u1", data["user_id"])
}

func TestInternalTokenEndpoint(t *testing.T) {
	api := newAPI(t)
	body := `{"user_id":"u2","venue":"g2"}`
	rec, _ := api.do(t, http.MethodPost, "/v1/internal/token", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/internal/token", strings.NewReader(body))
	req.Header.Set("X-Internal-Token", "internal")
	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var env struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	key, err := api.auth.ParseToken(env.Data.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.AccountKey{UserID: "u2", Venue: "g2"}, key)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t)
	tok := api.token(t)

	rec, env := api.do(t, http.MethodPost, "/v1/orders", `{"instrument":"ETHUSDT","side":"long","notional":"1000","price":"2900"}`, tok)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "order accepted", env["message"])
	order := env["data"].(map[string]any)["order"].(map[string]any)
	id := order["id"].(string)

	rec, env = api.do(t, http.MethodGet, "/v1/orders", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env["data"], 1)

	rec, _ = api.do(t, http.MethodDelete, "/v1/orders/"+id, "", tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env = api.do(t, http.MethodDelete, "/v1/orders/"+id, "", tok)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.KindOrderNotPending), env["error_kind"])

	rec, env = api.do(t, http.MethodPost, "/v1/orders", `{"instrument":"BTCUSDT","side":"long","notional":"10000000"}`, tok)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, env["limit"])
}

func TestLoanRoutes(t *testing.T) {
	api := newAPI(t)
	tok := api.token(t)

	rec, _ := api.do(t, http.MethodPost, "/v1/loans/borrow", `{"amount":"1000"}`, tok)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := api.do(t, http.MethodGet, "/v1/loans/bill", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1100", env["data"].(map[string]any)["total_debt"])

	rec, _ = api.do(t, http.MethodPost, "/v1/loans/repay", "", tok)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
