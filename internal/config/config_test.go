package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TURRA7/BotShop/internal/config"
)

var keys = []string{
	"HTTP_ADDR", "LOG_LEVEL", "STORE", "DATABASE_URL", "KAFKA_BROKERS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "CONVERSATION_TTL", "ADMIN_IDS",
	"YOOKASSA_SHOP_ID", "YOOKASSA_SECRET_KEY", "YOOKASSA_BASE_URL", "PAYMENT_RETURN_URL",
	"PAYMENT_TIMEOUT", "PAYMENT_POLL_INTERVAL", "PAYMENT_POLL_RPS", "PAYMENT_MAX_AGE",
	"HTTP_AUTH_SECRET", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
}

func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, config.StorePostgres, cfg.Store)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 30*time.Minute, cfg.ConversationTTL)
	assert.Equal(t, 10*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.PaymentMaxAge)
	assert.Equal(t, 5.0, cfg.PollRPS)
	assert.False(t, cfg.PaymentsEnabled())
	assert.False(t, cfg.IsAdmin(1))
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.False(t, cfg.OTLPInsecure)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE", "Memory")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("ADMIN_IDS", "42, 7")
	t.Setenv("YOOKASSA_SHOP_ID", "shop")
	t.Setenv("YOOKASSA_SECRET_KEY", "secret")
	t.Setenv("PAYMENT_TIMEOUT", "3s")
	t.Setenv("PAYMENT_POLL_RPS", "0.5")
	t.Setenv("HTTP_AUTH_SECRET", "s3cret")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, []int64{42, 7}, cfg.AdminIDs)
	assert.True(t, cfg.IsAdmin(7))
	assert.False(t, cfg.IsAdmin(8))
	assert.True(t, cfg.PaymentsEnabled())
	assert.Equal(t, 3*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, 0.5, cfg.PollRPS)
	assert.Equal(t, "s3cret", cfg.AuthSecret)
	assert.Equal(t, "otel:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.OTLPInsecure)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"LOG_LEVEL":                   "loud",
		"STORE":                       "sqlite",
		"REDIS_DB":                    "-1",
		"ADMIN_IDS":                   "1,abc",
		"PAYMENT_TIMEOUT":             "10",
		"PAYMENT_POLL_INTERVAL":       "-5s",
		"PAYMENT_POLL_RPS":            "0",
		"YOOKASSA_SHOP_ID":            "shop-without-secret",
		"OTEL_EXPORTER_OTLP_INSECURE": "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
