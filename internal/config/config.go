package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"lv-margin/internal/risk"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr          string
	DBDSN             string
	JWTIssuer         string
	JWTSecret         string
	JWTTTL            time.Duration
	InternalTokenHash string
	WebSocketOrigin   string
	LogLevel          string
	Mode              string

	PriceAPIURL       string
	PriceCacheTTL     time.Duration
	PriceFetchTimeout time.Duration
	PriceRateLimit    float64
	QuoteSymbols      []string

	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string

	MonitorTick      time.Duration
	LiquidationEvery int
	InterestEvery    time.Duration

	Risk risk.Params
}

// LoadDotEnv reads .env files into the environment when present. Variables
// already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

type parser struct {
	errs []string
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, "invalid "+key)
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		p.errs = append(p.errs, "invalid "+key)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		p.errs = append(p.errs, "invalid "+key)
		return def
	}
	return f
}

func (p *parser) decimal(key string, def decimal.Decimal) decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		p.errs = append(p.errs, "invalid "+key)
		return def
	}
	return d
}

func list(raw string) []string {
	out := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	c.DBDSN = strings.TrimSpace(os.Getenv("DB_DSN"))
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	c.InternalTokenHash = strings.TrimSpace(os.Getenv("INTERNAL_TOKEN_HASH"))
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	c.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Mode = strings.ToLower(strings.TrimSpace(os.Getenv("APP_MODE")))
	if c.Mode == "" {
		c.Mode = "development"
	}
	if c.Mode != "development" && c.Mode != "production" {
		return c, errors.New("invalid APP_MODE: use development or production")
	}
	if c.Mode == "production" {
		if c.DBDSN == "" {
			missing = append(missing, "DB_DSN")
		}
		if c.InternalTokenHash == "" {
			missing = append(missing, "INTERNAL_TOKEN_HASH")
		}
		if c.WebSocketOrigin == "" {
			missing = append(missing, "WS_ORIGIN")
		}
	}

	c.PriceAPIURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PRICE_API_URL")), "/")
	if c.PriceAPIURL == "" {
		missing = append(missing, "PRICE_API_URL")
	}
	c.QuoteSymbols = list(os.Getenv("QUOTE_SYMBOLS"))
	if len(c.QuoteSymbols) == 0 {
		c.QuoteSymbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	c.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	c.KafkaBrokers = list(os.Getenv("KAFKA_BROKERS"))
	c.KafkaTopic = strings.TrimSpace(os.Getenv("KAFKA_TOPIC"))
	if c.KafkaTopic == "" {
		c.KafkaTopic = "margin.events"
	}

	p := &parser{}
	c.JWTTTL = p.duration("JWT_TTL", 24*time.Hour)
	c.PriceCacheTTL = p.duration("PRICE_CACHE_TTL", 10*time.Second)
	c.PriceFetchTimeout = p.duration("PRICE_FETCH_TIMEOUT", 5*time.Second)
	c.PriceRateLimit = p.float("PRICE_RATE_LIMIT", 10)
	c.MonitorTick = p.duration("MONITOR_TICK", 10*time.Second)
	c.LiquidationEvery = p.integer("LIQUIDATION_EVERY", 3)
	c.InterestEvery = p.duration("INTEREST_EVERY", 6*time.Hour)

	c.Risk = risk.DefaultParams()
	c.Risk.StartingBalance = p.decimal("STARTING_BALANCE", c.Risk.StartingBalance)
	c.Risk.MaxLeverage = p.decimal("MAX_LEVERAGE", c.Risk.MaxLeverage)
	c.Risk.TakerFeeRate = p.decimal("TAKER_FEE_RATE", c.Risk.TakerFeeRate)
	c.Risk.MakerFeeRate = p.decimal("MAKER_FEE_RATE", c.Risk.MakerFeeRate)
	c.Risk.MinThresholdRatio = p.decimal("MIN_THRESHOLD_RATIO", c.Risk.MinThresholdRatio)
	c.Risk.MaxThresholdRatio = p.decimal("MAX_THRESHOLD_RATIO", c.Risk.MaxThresholdRatio)
	c.Risk.ThresholdMaxLeverage = p.decimal("THRESHOLD_MAX_LEVERAGE", c.Risk.ThresholdMaxLeverage)
	if c.Risk.ThresholdMaxLeverage.LessThanOrEqual(decimal.NewFromInt(1)) {
		p.errs = append(p.errs, "THRESHOLD_MAX_LEVERAGE must exceed 1")
	}
	if c.Risk.MinThresholdRatio.GreaterThan(c.Risk.MaxThresholdRatio) {
		p.errs = append(p.errs, "MIN_THRESHOLD_RATIO exceeds MAX_THRESHOLD_RATIO")
	}

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	if len(p.errs) > 0 {
		return c, fmt.Errorf("config: %s", strings.Join(p.errs, "; "))
	}
	return c, nil
}
