package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Source fetches a live mark price for one instrument.
type Source interface {
	Fetch(ctx context.Context, instrument string) (decimal.Decimal, error)
}

// StatusError is a non-2xx reply from the price API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("price api status=%d body=%s", e.StatusCode, e.Body)
}

// HTTPSource reads a Binance-compatible ticker endpoint:
// GET {base}/api/v3/ticker/price?symbol=BTCUSDT -> {"symbol":"BTCUSDT","price":"100000.00"}.
type HTTPSource struct {
	client   *http.Client
	baseURL  string
	limiter  *rate.Limiter
	pipeline failsafe.Executor[*http.Response]
}

func NewHTTPSource(baseURL string, requestsPerSecond float64, timeout time.Duration) *HTTPSource {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(2).
		Build()

	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &HTTPSource{
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		pipeline: failsafe.With[*http.Response](retryPolicy),
	}
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (s *HTTPSource) Fetch(ctx context.Context, instrument string) (decimal.Decimal, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	endpoint := s.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(instrument)
	resp, err := s.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		return s.client.Do(req)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch %s: %w", instrument, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read %s: %w", instrument, err)
	}
	if resp.StatusCode >= 300 {
		return decimal.Zero, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var tr tickerResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode %s: %w", instrument, err)
	}
	price, err := decimal.NewFromString(tr.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price for %s: %w", instrument, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price for %s", instrument)
	}
	return price, nil
}
