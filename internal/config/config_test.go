package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "drivers_live", cfg.RedisGeoKey)
	assert.Equal(t, "trip-events", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Zero(t, cfg.BookingTTL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 3*time.Second, cfg.PersistTimeout)
	assert.False(t, cfg.RunMigrations)
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("PG_DSN", "postgres://x")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("WS_SEND_BUFFER", "16")
	t.Setenv("BOOKING_TTL", "10m")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, 16, cfg.SendBuffer)
	assert.Equal(t, 10*time.Minute, cfg.BookingTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigReportsEveryProblem(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("WS_SEND_BUFFER", "0")
	t.Setenv("BOOKING_TTL", "-1s")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP_READ_TIMEOUT")
	assert.Contains(t, err.Error(), "WS_SEND_BUFFER must be > 0")
	assert.Contains(t, err.Error(), "BOOKING_TTL must be >= 0")
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_GROUP", "projector-test")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "projector-test", cfg.KafkaGroup)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "trip-events", cfg.KafkaTopic)

	t.Setenv("KAFKA_BROKERS", " , ")
	_, err = LoadConsumerConfig()
	assert.Error(t, err)
}
