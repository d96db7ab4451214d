package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(discardLogger(), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "disable", cfg.DB.SSLMode)
	assert.Equal(t, []string{"USD", "EUR", "BTC", "ETH", "USDC", "EURC"}, cfg.Payments.SupportedCurrencies)
	assert.True(t, cfg.Payments.BaseFee.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, cfg.Payments.FeeRate.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, cfg.Payments.DailyLimit.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, 5*time.Second, cfg.Payments.SettlementDelay)
	assert.Equal(t, 24*time.Hour, cfg.Reconciliation.Window)
	assert.Equal(t, 15*time.Minute, cfg.Reconciliation.MatchSlack)
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoadConfigFromEnvAndFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PAYMENTS_FEE_RATE=0.02\nWORKER_CONCURRENCY=8\n"), 0o600))
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Cleanup(func() {
		os.Unsetenv("PAYMENTS_FEE_RATE")
		os.Unsetenv("WORKER_CONCURRENCY")
	})

	cfg, err := LoadConfig(discardLogger(), envFile)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.True(t, cfg.Payments.FeeRate.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	_, err := LoadConfig(discardLogger(), filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "redis://:xxxxx@cache:6379/0", maskURL("redis://:secret@cache:6379/0"))
	assert.Empty(t, maskURL(""))
}
