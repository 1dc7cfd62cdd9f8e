package accounts

import (
	"net/http"

	"lv-margin/internal/httputil"
	"lv-margin/internal/model"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type accountResponse struct {
	model.Account
	Available string `json:"available"`
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	acc, err := h.svc.GetOrCreate(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", accountResponse{Account: acc, Available: acc.Available().String()})
}
