package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8081/era5", cfg.ClimateBaseURL)
	assert.Equal(t, "http://localhost:8081/stormevents", cfg.EventsBaseURL)
	assert.Equal(t, "data_cache", cfg.CacheDir)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 3, cfg.FetchRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.FetchBackoff)
	assert.Equal(t, 18, cfg.ObservationHour)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.KafkaEnabled())
	assert.Equal(t, "tornado-day-samples", cfg.KafkaTopic)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("CLIMATE_BASE_URL", "https://rda.example.org/era5")
	t.Setenv("EVENTS_BASE_URL", "https://ncei.example.org/stormevents")
	t.Setenv("CACHE_DIR", "/tmp/cache")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("FETCH_RETRIES", "5")
	t.Setenv("FETCH_BACKOFF", "1s")
	t.Setenv("OBSERVATION_HOUR", "12")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-samples")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://rda.example.org/era5", cfg.ClimateBaseURL)
	assert.Equal(t, "https://ncei.example.org/stormevents", cfg.EventsBaseURL)
	assert.Equal(t, "/tmp/cache", cfg.CacheDir)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 5, cfg.FetchRetries)
	assert.Equal(t, 1*time.Second, cfg.FetchBackoff)
	assert.Equal(t, 12, cfg.ObservationHour)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, "custom-samples", cfg.KafkaTopic)
}

func TestLoad_InvalidFetchTimeout(t *testing.T) {
	t.Setenv("FETCH_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_TIMEOUT")
}

func TestLoad_NegativeFetchBackoff(t *testing.T) {
	t.Setenv("FETCH_BACKOFF", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_BACKOFF")
}

func TestLoad_RetriesOutOfRange(t *testing.T) {
	t.Setenv("FETCH_RETRIES", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_RETRIES")

	t.Setenv("FETCH_RETRIES", "50")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_RETRIES")
}

func TestLoad_InvalidObservationHour(t *testing.T) {
	t.Setenv("OBSERVATION_HOUR", "24")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OBSERVATION_HOUR")
}

func TestLoad_BrokerListIgnoresBlanks(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,, ,broker2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
}
