package loans

import (
	"errors"
	"net/http"
	"strings"

	"lv-margin/internal/httputil"
	"lv-margin/internal/model"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	var req amountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		httputil.BadRequest(w, "invalid amount")
		return
	}
	loan, err := h.svc.Borrow(r.Context(), key, amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusCreated, "loan issued", loan)
}

// Repay accepts an empty body or an empty amount as "repay everything".
func (h *Handler) Repay(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	var amount *decimal.Decimal
	var req amountRequest
	if err := httputil.ReadJSON(r, &req); err != nil && !errors.Is(err, httputil.ErrEmptyBody) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if raw := strings.TrimSpace(req.Amount); raw != "" {
		a, err := decimal.NewFromString(raw)
		if err != nil {
			httputil.BadRequest(w, "invalid amount")
			return
		}
		amount = &a
	}
	res, err := h.svc.Repay(r.Context(), key, amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "repayment applied", res)
}

func (h *Handler) Bill(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	bill, err := h.svc.Bill(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", bill)
}
