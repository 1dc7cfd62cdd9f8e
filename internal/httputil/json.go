// Package httputil holds the JSON envelope every engine endpoint answers with.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"lv-margin/internal/apperr"
)

const maxBody = 1 << 20

var ErrEmptyBody = errors.New("request body is empty")

// Envelope is the {success, message, data} result shape the calling
// application renders.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Limit     string `json:"limit,omitempty"`
}

func ReadJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteOK(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// WriteError maps typed engine errors to a status code and envelope. Untyped
// errors are reported as internal failures without their text.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	env := Envelope{Success: false, Message: err.Error(), ErrorKind: string(kind)}
	if limit, ok := apperr.LimitOf(err); ok {
		env.Limit = limit.String()
	}
	status := StatusFor(kind)
	if kind == "" || kind == apperr.KindPersistence {
		env.Message = "internal error"
	}
	WriteJSON(w, status, env)
}

// BadRequest reports a malformed request before it reaches a service.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, Envelope{Success: false, Message: msg, ErrorKind: string(apperr.KindValidation)})
}

func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientMargin, apperr.KindCreditLimitExceeded, apperr.KindLeverageExceeded:
		return http.StatusUnprocessableEntity
	case apperr.KindOrderNotPending, apperr.KindConditionNotMet:
		return http.StatusConflict
	case apperr.KindPriceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
