package auth

import (
	"net/http"
	"time"

	"lv-margin/internal/httputil"
	"lv-margin/internal/model"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type tokenRequest struct {
	UserID string `json:"user_id"`
	Venue  string `json:"venue"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Token issues an account token. It is mounted behind the internal token check.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	token, exp, err := h.svc.Issue(model.AccountKey{UserID: req.UserID, Venue: req.Venue})
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteOK(w, http.StatusCreated, "", tokenResponse{AccessToken: token, ExpiresAt: exp})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	httputil.WriteOK(w, http.StatusOK, "", key)
}
