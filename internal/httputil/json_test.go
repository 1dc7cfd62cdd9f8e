package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lv-margin/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestWriteErrorCarriesKindAndLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperr.WithLimit(apperr.KindCreditLimitExceeded, "loan exceeds credit limit", decimal.NewFromInt(1800)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "credit_limit_exceeded", env.ErrorKind)
	assert.Equal(t, "1800", env.Limit)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode(t, rec).Message)
}

func TestReadJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1","extra":true}`))
	var body struct {
		Amount string `json:"amount"`
	}
	assert.Error(t, ReadJSON(req, &body))

	empty := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.EqualError(t, ReadJSON(empty, &body), "request body is empty")
}
