package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_ISSUER", "margin")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PRICE_API_URL", "http://prices.local/")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, "http://prices.local", c.PriceAPIURL)
	assert.Equal(t, 10*time.Second, c.MonitorTick)
	assert.Equal(t, 3, c.LiquidationEvery)
	assert.Equal(t, 6*time.Hour, c.InterestEvery)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, c.QuoteSymbols)
	assert.True(t, c.Risk.StartingBalance.Equal(decimal.NewFromInt(10000)))
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MONITOR_TICK", "2s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("MAX_LEVERAGE", "50")
	t.Setenv("QUOTE_SYMBOLS", "SOLUSDT")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, c.MonitorTick)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.True(t, c.Risk.MaxLeverage.Equal(decimal.NewFromInt(50)))
	assert.True(t, c.Risk.ThresholdMaxLeverage.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, []string{"SOLUSDT"}, c.QuoteSymbols)
}

func TestLoadReportsMissingAndInvalid(t *testing.T) {
	t.Setenv("JWT_ISSUER", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PRICE_API_URL", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "PRICE_API_URL")

	setRequired(t)
	t.Setenv("LIQUIDATION_EVERY", "zero")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIQUIDATION_EVERY")
}

func TestThresholdMaxLeverageOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("THRESHOLD_MAX_LEVERAGE", "25")
	c, err := Load()
	require.NoError(t, err)
	assert.True(t, c.Risk.ThresholdMaxLeverage.Equal(decimal.NewFromInt(25)))

	t.Setenv("THRESHOLD_MAX_LEVERAGE", "1")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "THRESHOLD_MAX_LEVERAGE")
}

func TestProductionRequiresDatabase(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_MODE", "production")
	t.Setenv("DB_DSN", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MARGIN_TEST_A=from-file\nMARGIN_TEST_B=from-file\n"), 0o600))
	t.Setenv("MARGIN_TEST_A", "from-env")
	t.Setenv("MARGIN_TEST_B", "")
	require.NoError(t, os.Unsetenv("MARGIN_TEST_B"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("MARGIN_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("MARGIN_TEST_B"))
	os.Unsetenv("MARGIN_TEST_B")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
