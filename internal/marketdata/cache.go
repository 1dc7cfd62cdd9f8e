package marketdata

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	FetchedAt  time.Time       `json:"fetched_at"`
	Source     string          `json:"source"`
}

const (
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// Cache holds the most recent quote per instrument. Implementations replace
// a slot whole, so readers never see a torn quote.
type Cache interface {
	Get(ctx context.Context, instrument string) (Quote, bool)
	Set(ctx context.Context, q Quote)
}

type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]Quote
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]Quote)}
}

func (c *MemoryCache) Get(_ context.Context, instrument string) (Quote, bool) {
	c.mu.RLock()
	q, ok := c.data[instrument]
	c.mu.RUnlock()
	return q, ok
}

func (c *MemoryCache) Set(_ context.Context, q Quote) {
	if q.Instrument == "" || !q.Price.IsPositive() {
		return
	}
	c.mu.Lock()
	c.data[q.Instrument] = q
	c.mu.Unlock()
}

var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "FDUSD"}

// Normalize maps user input such as "btc", "BTC/USDT" or "eth-usdt" to an exchange symbol.
func Normalize(instrument string) string {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	s = strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(s)
	if s == "" {
		return ""
	}
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return s
		}
	}
	return s + "USDT"
}
