package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"lv-margin/internal/accounts"
	"lv-margin/internal/auth"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/model"
	"lv-margin/internal/positions"
	"lv-margin/internal/risk"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteTimeout = 5 * time.Second

// WSHandler streams quotes and the caller's account events.
type WSHandler struct {
	bus       *marketdata.Bus
	authSvc   *auth.Service
	accounts  *accounts.Service
	positions *positions.Service
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func NewWSHandler(bus *marketdata.Bus, authSvc *auth.Service, accountSvc *accounts.Service, positionSvc *positions.Service, origin string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		bus:       bus,
		authSvc:   authSvc,
		accounts:  accountSvc,
		positions: positionSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
		logger: logger.Named("ws"),
	}
}

type wsControlMessage struct {
	Type string `json:"type"`
}

type accountSnapshot struct {
	Account  model.Account `json:"account"`
	Exposure risk.Exposure `json:"exposure"`
	TS       int64         `json:"ts"`
}

func (h *WSHandler) snapshot(ctx context.Context, key model.AccountKey) (accountSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	acc, err := h.accounts.GetOrCreate(ctx, key)
	if err != nil {
		return accountSnapshot{}, err
	}
	exposure, err := h.positions.Snapshot(ctx, key, nil)
	if err != nil {
		return accountSnapshot{}, err
	}
	return accountSnapshot{Account: acc, Exposure: exposure, TS: time.Now().UnixMilli()}, nil
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "" || origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
			return true
		}
	}
	return strings.EqualFold(reqOrigin, origin)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// browsers cannot set headers on the upgrade request
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	key, err := h.authSvc.ParseToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if key.Venue == "" {
		key.Venue = strings.TrimSpace(r.URL.Query().Get("venue"))
	}
	if key.Venue == "" {
		http.Error(w, "venue is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe(marketdata.ForAccount(key.UserID, key.Venue))
	defer h.bus.Unsubscribe(sub)

	requests := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ctrl wsControlMessage
			if err := json.Unmarshal(payload, &ctrl); err != nil {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(ctrl.Type), "snapshot") {
				select {
				case requests <- struct{}{}:
				default:
				}
			}
		}
	}()

	write := func(evt marketdata.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(evt) == nil
	}
	sendSnapshot := func() bool {
		snap, err := h.snapshot(r.Context(), key)
		if err != nil {
			h.logger.Debug("account snapshot failed", zap.String("user_id", key.UserID), zap.Error(err))
			return true
		}
		return write(marketdata.Event{Type: "account_snapshot", UserID: key.UserID, Venue: key.Venue, Data: snap})
	}

	if !sendSnapshot() {
		return
	}
	for {
		select {
		case evt, ok := <-sub:
			if !ok || !write(evt) {
				return
			}
		case <-requests:
			if !sendSnapshot() {
				return
			}
		case <-done:
			return
		}
	}
}
