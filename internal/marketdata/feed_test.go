package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"lv-margin/internal/apperr"
	"lv-margin/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (f *fakeSource) Fetch(_ context.Context, instrument string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	p, ok := f.prices[instrument]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return p, nil
}

func (f *fakeSource) set(instrument string, price int64) {
	f.mu.Lock()
	f.prices[instrument] = decimal.NewFromInt(price)
	f.mu.Unlock()
}

func newTestFeed(t *testing.T) (*Feed, *fakeSource, *time.Time) {
	src := &fakeSource{prices: map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(100000)}}
	feed := NewFeed(src, NewMemoryCache(), ledger.NewMemoryStore(), FeedConfig{TTL: 10 * time.Second}, zaptest.NewLogger(t), nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feed.SetClock(func() time.Time { return now })
	return feed, src, &now
}

func TestCurrentPriceServesCacheWithinTTL(t *testing.T) {
	feed, src, now := newTestFeed(t)
	ctx := context.Background()

	p, err := feed.CurrentPrice(ctx, "btc")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(100000)))

	src.set("BTCUSDT", 101000)
	*now = now.Add(5 * time.Second)
	p, err = feed.CurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(100000)), "cached quote expected")
	assert.Equal(t, 1, src.calls)

	*now = now.Add(6 * time.Second)
	p, err = feed.CurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(101000)))
}

func TestFreshPriceBypassesCache(t *testing.T) {
	feed, src, _ := newTestFeed(t)
	ctx := context.Background()
	_, err := feed.CurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)

	src.set("BTCUSDT", 99000)
	p, err := feed.FreshPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(99000)))
}

func TestFetchFailureFallsBackToDurablePrice(t *testing.T) {
	src := &fakeSource{prices: map[string]decimal.Decimal{"ETHUSDT": decimal.NewFromInt(3000)}}
	store := ledger.NewMemoryStore()
	warm := NewFeed(src, NewMemoryCache(), store, FeedConfig{}, zaptest.NewLogger(t), nil)
	_, err := warm.FreshPrice(context.Background(), "ETH")
	require.NoError(t, err)

	// a new process with an empty cache and a dead source
	src.err = errors.New("connection refused")
	cold := NewFeed(src, NewMemoryCache(), store, FeedConfig{}, zaptest.NewLogger(t), nil)
	q, err := cold.Quote(context.Background(), "ETH", true)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, q.Source)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(3000)))
}

func TestUnknownInstrumentIsPriceUnavailable(t *testing.T) {
	feed, _, _ := newTestFeed(t)
	_, err := feed.CurrentPrice(context.Background(), "NOPE")
	assert.ErrorIs(t, err, apperr.ErrPriceUnavailable)

	_, err = feed.CurrentPrice(context.Background(), "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPricesOmitsFailures(t *testing.T) {
	feed, src, _ := newTestFeed(t)
	src.set("ETHUSDT", 3000)

	got := feed.Prices(context.Background(), []string{"BTCUSDT", "ETHUSDT", "DOGEUSDT", "BTCUSDT"}, true)
	assert.Len(t, got, 2)
	assert.True(t, got["ETHUSDT"].Equal(decimal.NewFromInt(3000)))
	_, ok := got["DOGEUSDT"]
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Normalize("btc"))
	assert.Equal(t, "BTCUSDT", Normalize("BTC/USDT"))
	assert.Equal(t, "ETHUSDC", Normalize("eth-usdc"))
	assert.Equal(t, "", Normalize(" "))
}

func TestHTTPSourceParsesTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"100123.45"}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, 100, time.Second)
	p, err := src.Fetch(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "100123.45", p.String())

	_, err = src.Fetch(context.Background(), "XXX")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestHTTPSourceRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","price":"3000"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPSource(srv.URL, 100, time.Second).Fetch(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(3000)))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, hits)
}

func TestBusFiltersByAccount(t *testing.T) {
	bus := NewBus()
	mine := bus.Subscribe(ForAccount("u1", "g1"))
	defer bus.Unsubscribe(mine)

	assert.Equal(t, 1, bus.Publish(Event{Type: "quote"}))
	assert.Equal(t, 0, bus.Publish(Event{Type: "position_liquidated", UserID: "u2", Venue: "g1"}))
	assert.Equal(t, 1, bus.Publish(Event{Type: "order_executed", UserID: "u1", Venue: "g1"}))
	assert.Len(t, mine, 2)
}
