package positions

import (
	"net/http"
	"strings"

	"lv-margin/internal/httputil"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/model"
	"lv-margin/internal/risk"
	"lv-margin/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type positionsResponse struct {
	Positions []model.Position `json:"positions"`
	Exposure  risk.Exposure    `json:"exposure"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	positions, err := h.svc.GetPositions(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	exposure, err := h.svc.Snapshot(r.Context(), key, nil)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", positionsResponse{Positions: positions, Exposure: exposure})
}

func (h *Handler) CloseAll(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	res, err := h.svc.CloseAll(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "positions closed", res)
}

func parseOptionalDecimal(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (h *Handler) SetTriggers(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	var req struct {
		Instrument string `json:"instrument"`
		Side       string `json:"side"`
		TakeProfit string `json:"take_profit"`
		StopLoss   string `json:"stop_loss"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	tp, err := parseOptionalDecimal(req.TakeProfit)
	if err != nil {
		httputil.BadRequest(w, "invalid take_profit")
		return
	}
	sl, err := parseOptionalDecimal(req.StopLoss)
	if err != nil {
		httputil.BadRequest(w, "invalid stop_loss")
		return
	}
	pos, err := h.svc.SetTriggers(r.Context(), key, marketdata.Normalize(req.Instrument), types.PositionSide(strings.ToLower(req.Side)), tp, sl)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "triggers updated", pos)
}

func (h *Handler) LiquidationPrice(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	q := r.URL.Query()
	size, err := decimal.NewFromString(q.Get("size"))
	if err != nil {
		httputil.BadRequest(w, "invalid size")
		return
	}
	entry, err := decimal.NewFromString(q.Get("entry"))
	if err != nil {
		httputil.BadRequest(w, "invalid entry")
		return
	}
	price, err := h.svc.LiquidationPrice(r.Context(), key, marketdata.Normalize(q.Get("instrument")), types.PositionSide(strings.ToLower(q.Get("side"))), size, entry)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", map[string]string{"liquidation_price": price.String()})
}
