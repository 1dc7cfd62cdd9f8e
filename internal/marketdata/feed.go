package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"lv-margin/internal/apperr"
	"lv-margin/internal/metrics"
	"lv-margin/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SnapshotStore is the durable last-known-price table.
type SnapshotStore interface {
	LastPrice(ctx context.Context, instrument string) (model.PriceSnapshot, error)
	SavePrice(ctx context.Context, snap model.PriceSnapshot) error
}

type FeedConfig struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	MaxParallel  int
}

// Feed answers "what is the mark for X now". Cached quotes younger than TTL
// are served directly; otherwise the source is asked, and if it fails the
// last durable price is used.
type Feed struct {
	source  Source
	cache   Cache
	store   SnapshotStore
	cfg     FeedConfig
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewFeed(source Source, cache Cache, store SnapshotStore, cfg FeedConfig, logger *zap.Logger, m *metrics.Metrics) *Feed {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Feed{
		source:  source,
		cache:   cache,
		store:   store,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.Named("price_feed"),
		metrics: m,
	}
}

// SetClock replaces the time source.
func (f *Feed) SetClock(now func() time.Time) {
	f.now = now
}

// CurrentPrice may return a quote up to TTL old.
func (f *Feed) CurrentPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	q, err := f.Quote(ctx, instrument, false)
	return q.Price, err
}

// FreshPrice always asks the source first.
func (f *Feed) FreshPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	q, err := f.Quote(ctx, instrument, true)
	return q.Price, err
}

func (f *Feed) Quote(ctx context.Context, instrument string, fresh bool) (Quote, error) {
	instrument = Normalize(instrument)
	if instrument == "" {
		return Quote{}, apperr.Validation("instrument is required")
	}
	cached, hit := f.cache.Get(ctx, instrument)
	if !fresh && hit && f.now().Sub(cached.FetchedAt) < f.cfg.TTL {
		f.metrics.PriceLookup(SourceCache)
		cached.Source = SourceCache
		return cached, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	price, err := f.source.Fetch(fetchCtx, instrument)
	cancel()
	if err == nil {
		q := Quote{Instrument: instrument, Price: price, FetchedAt: f.now().UTC(), Source: SourceLive}
		f.cache.Set(ctx, q)
		if f.store != nil {
			snap := model.PriceSnapshot{Instrument: instrument, Price: price, UpdatedAt: q.FetchedAt}
			if serr := f.store.SavePrice(ctx, snap); serr != nil {
				f.logger.Warn("failed to persist price snapshot", zap.String("instrument", instrument), zap.Error(serr))
			}
		}
		f.metrics.PriceLookup(SourceLive)
		return q, nil
	}

	f.logger.Warn("price fetch failed, falling back", zap.String("instrument", instrument), zap.Error(err))
	if f.store != nil {
		snap, serr := f.store.LastPrice(ctx, instrument)
		if serr == nil && snap.Price.IsPositive() {
			f.metrics.PriceLookup(SourceFallback)
			return Quote{Instrument: instrument, Price: snap.Price, FetchedAt: snap.UpdatedAt, Source: SourceFallback}, nil
		}
	}
	if hit && cached.Price.IsPositive() {
		f.metrics.PriceLookup(SourceFallback)
		cached.Source = SourceFallback
		return cached, nil
	}
	f.metrics.PriceLookup("unavailable")
	if errors.Is(err, context.Canceled) {
		return Quote{}, err
	}
	return Quote{}, &apperr.Error{Kind: apperr.KindPriceUnavailable, Message: "no price for " + instrument, Err: err}
}

// Prices looks up several instruments concurrently. Instruments whose price
// is unavailable are absent from the result.
func (f *Feed) Prices(ctx context.Context, instruments []string, fresh bool) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(instruments))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.MaxParallel)
	seen := make(map[string]struct{}, len(instruments))
	for _, inst := range instruments {
		if _, dup := seen[inst]; dup {
			continue
		}
		seen[inst] = struct{}{}
		inst := inst
		g.Go(func() error {
			q, err := f.Quote(gctx, inst, fresh)
			if err != nil {
				return nil
			}
			mu.Lock()
			out[inst] = q.Price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
