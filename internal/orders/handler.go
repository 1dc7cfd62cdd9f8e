package orders

import (
	"net/http"
	"strconv"
	"strings"

	"lv-margin/internal/httputil"
	"lv-margin/internal/model"
	"lv-margin/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type placeOrderRequest struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Role       string `json:"role"`
	Purpose    string `json:"purpose"`
	Notional   string `json:"notional"`
	Price      string `json:"price"`
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	notional := decimal.Zero
	if strings.TrimSpace(req.Notional) != "" {
		n, err := decimal.NewFromString(strings.TrimSpace(req.Notional))
		if err != nil {
			httputil.BadRequest(w, "invalid notional")
			return
		}
		notional = n
	}
	var price *decimal.Decimal
	if strings.TrimSpace(req.Price) != "" {
		p, err := decimal.NewFromString(strings.TrimSpace(req.Price))
		if err != nil {
			httputil.BadRequest(w, "invalid price")
			return
		}
		price = &p
	}
	role := types.OrderRole(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == "" {
		role = types.RoleImmediate
		if price != nil {
			role = types.RoleResting
		}
	}
	purpose := types.OrderPurpose(strings.ToLower(strings.TrimSpace(req.Purpose)))
	if purpose == "" {
		purpose = types.PurposeOpen
	}
	res, err := h.svc.Create(r.Context(), CreateRequest{
		Key:        key,
		Instrument: req.Instrument,
		Side:       ParseSide(req.Side),
		Role:       role,
		Purpose:    purpose,
		Notional:   notional,
		Price:      price,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	msg := "order accepted"
	if res.Execution != nil {
		msg = "order executed"
	}
	httputil.WriteOK(w, http.StatusCreated, msg, res)
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	list, err := h.svc.ListPending(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	o, err := h.svc.Get(r.Context(), key, chi.URLParam(r, "orderID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", o)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	o, err := h.svc.Cancel(r.Context(), key, chi.URLParam(r, "orderID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "order cancelled", o)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	trades, err := h.svc.History(r.Context(), key, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", trades)
}
