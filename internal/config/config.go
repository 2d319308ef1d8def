package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
// Per-run parameters (date range, region, force refresh) come from CLI flags,
// not from here.
type Config struct {
	ClimateBaseURL string
	EventsBaseURL  string

	CacheDir string

	FetchTimeout    time.Duration
	FetchRetries    int
	FetchBackoff    time.Duration
	ObservationHour int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Kafka sink configuration. Publishing is enabled when brokers are set.
	KafkaBrokers []string
	KafkaTopic   string
}

// KafkaEnabled reports whether the sample sink should publish.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	fetchTimeout, err := envDuration("FETCH_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	fetchBackoff, err := envDuration("FETCH_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	fetchRetries, err := envInt("FETCH_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	hour, err := envInt("OBSERVATION_HOUR", 18)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ClimateBaseURL: envOrDefault("CLIMATE_BASE_URL", "http://localhost:8081/era5"),
		EventsBaseURL:  envOrDefault("EVENTS_BASE_URL", "http://localhost:8081/stormevents"),

		CacheDir: envOrDefault("CACHE_DIR", "data_cache"),

		FetchTimeout:    fetchTimeout,
		FetchRetries:    fetchRetries,
		FetchBackoff:    fetchBackoff,
		ObservationHour: hour,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers: parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "tornado-day-samples"),
	}

	if cfg.ClimateBaseURL == "" {
		return nil, errors.New("CLIMATE_BASE_URL is required")
	}
	if cfg.EventsBaseURL == "" {
		return nil, errors.New("EVENTS_BASE_URL is required")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("CACHE_DIR is required")
	}
	if cfg.FetchRetries < 1 || cfg.FetchRetries > 10 {
		return nil, fmt.Errorf("FETCH_RETRIES must be between 1 and 10, got %d", cfg.FetchRetries)
	}
	if cfg.ObservationHour < 0 || cfg.ObservationHour > 23 {
		return nil, fmt.Errorf("OBSERVATION_HOUR must be between 0 and 23, got %d", cfg.ObservationHour)
	}
	if cfg.KafkaEnabled() && strings.TrimSpace(cfg.KafkaTopic) == "" {
		return nil, errors.New("KAFKA_BROKERS is set but KAFKA_TOPIC is empty")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
