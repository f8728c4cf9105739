package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
// Both binaries share one config; fields unused by a binary are simply ignored.
type Config struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	DatabaseURL string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Ingest pipeline settings.
	BatchSize          int
	BatchFlushInterval time.Duration
	InsertChunkSize    int

	// Enrichment settings. The radius is a planar degree distance, not a
	// geodesic one; 0.15 deg is coarse city-scale disambiguation.
	MatchRadiusDeg float64

	// API service settings.
	JWTSigningKey           string
	RegistrationPepperHex   string
	SpeedtestMaxUploadBytes int64
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	batchSize, err := parseBoundedInt("BATCH_SIZE", 50, 1, 1000)
	if err != nil {
		return nil, err
	}

	flushInterval, err := parsePositiveDuration("BATCH_FLUSH_INTERVAL", "500ms")
	if err != nil {
		return nil, err
	}

	chunkSize, err := parseBoundedInt("INSERT_CHUNK_SIZE", 500, 1, 2000)
	if err != nil {
		return nil, err
	}

	matchRadius, err := parseMatchRadius()
	if err != nil {
		return nil, err
	}

	maxUpload, err := parseBoundedInt("SPEEDTEST_MAX_UPLOAD_BYTES", 20971520, 1, 1<<30)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers: parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "radio-measurements"),
		KafkaGroupID: envOrDefault("KAFKA_GROUP_ID", "signalmap-ingest"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		InsertChunkSize:    chunkSize,

		MatchRadiusDeg: matchRadius,

		JWTSigningKey:           os.Getenv("JWT_SIGNING_KEY"),
		RegistrationPepperHex:   os.Getenv("REGISTRATION_PEPPER_HEX"),
		SpeedtestMaxUploadBytes: int64(maxUpload),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseBrokers splits a comma-separated broker list, dropping empty entries.
func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBoundedInt(key string, def, min, max int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d,%d]", key, min, max)
	}
	return n, nil
}

func parseMatchRadius() (float64, error) {
	s := os.Getenv("MATCH_RADIUS_DEG")
	if s == "" {
		return 0.15, nil
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil || r <= 0 {
		return 0, errors.New("invalid MATCH_RADIUS_DEG")
	}
	return r, nil
}
