package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every operator-tunable knob for the worker. All values come
// from the environment; every knob except DatabaseURL has a safe default.
type Config struct {
	DatabaseURL string
	LogLevel    string
	Jobs        JobsConfig
}

type JobsConfig struct {
	AlertsInterval   time.Duration
	DeductInterval   time.Duration
	MergeInterval    time.Duration
	BackfillInterval time.Duration

	// PageSize and MaxPages bound every paginated pass: a feed that never
	// shrinks below PageSize is cut off after MaxPages pages.
	PageSize int
	MaxPages int

	DeductLookback time.Duration
	MergeLookback  time.Duration
}

// Load reads the environment. Missing DATABASE_URL is the only fatal
// condition; everything else falls back to its default.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	return &Config{
		DatabaseURL: dbURL,
		LogLevel:    getEnv("RECON_LOG_LEVEL", "info"),
		Jobs: JobsConfig{
			AlertsInterval:   getEnvDuration("RECON_ALERTS_INTERVAL", 10*time.Minute),
			DeductInterval:   getEnvDuration("RECON_DEDUCT_INTERVAL", 5*time.Minute),
			MergeInterval:    getEnvDuration("RECON_MERGE_INTERVAL", 5*time.Minute),
			BackfillInterval: getEnvDuration("RECON_BACKFILL_INTERVAL", 15*time.Minute),
			PageSize:         getEnvInt("RECON_PAGE_SIZE", 100),
			MaxPages:         getEnvInt("RECON_MAX_PAGES", 50),
			DeductLookback:   getEnvDuration("RECON_DEDUCT_LOOKBACK", 72*time.Hour),
			MergeLookback:    getEnvDuration("RECON_MERGE_LOOKBACK", 48*time.Hour),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
