package marketdata

import (
	"net/http"

	"lv-margin/internal/httputil"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	feed *Feed
}

func NewHandler(feed *Feed) *Handler {
	return &Handler{feed: feed}
}

// Price serves GET /v1/prices/{instrument}; ?fresh=true bypasses the cache.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	instrument := chi.URLParam(r, "instrument")
	fresh := r.URL.Query().Get("fresh") == "true"
	q, err := h.feed.Quote(r.Context(), instrument, fresh)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", q)
}
