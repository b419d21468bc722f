package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Kafka
	KafkaBrokers   string
	KafkaSyncTopic string

	// API Configuration
	APIPort     string
	APIHost     string
	CORSOrigins []string

	// Remote source
	SourceBaseURL    string
	SourceToken      string
	SourceRatePerMin int

	// Auth
	AdminToken string
	PushSecret string

	// Push endpoint
	PushMaxSKUs    int
	PushRateWindow time.Duration

	// Import
	ImportBatchSize  int
	ImportBatchDelay time.Duration
	ImportSkipImages bool

	// Sync
	SyncCooldown       time.Duration
	SyncRecentMinutes  int
	SyncSweepBudget    time.Duration
	SyncStaleAge       time.Duration
	SyncStaleBatchSize int

	// Scheduler
	SchedulerPoll time.Duration

	// Environment
	Env      string
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file
	godotenv.Load()

	return &Config{
		DatabaseURL:        getEnv("DATABASE_URL", "sqlite://catalogsync.db"),
		RedisURL:           getEnv("REDIS_URL", ""),
		KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
		KafkaSyncTopic:     getEnv("KAFKA_SYNC_TOPIC", "product-sync"),
		APIPort:            getEnv("API_PORT", "8080"),
		APIHost:            getEnv("API_HOST", "0.0.0.0"),
		CORSOrigins:        getEnvAsSlice("CORS_ORIGINS", []string{"*"}),
		SourceBaseURL:      getEnv("SOURCE_BASE_URL", "https://api.anar360.com/api/360"),
		SourceToken:        getEnv("SOURCE_TOKEN", ""),
		SourceRatePerMin:   getEnvAsInt("SOURCE_RATE_PER_MIN", 120),
		AdminToken:         getEnv("ADMIN_TOKEN", ""),
		PushSecret:         getEnv("PUSH_SECRET", ""),
		PushMaxSKUs:        getEnvAsInt("PUSH_MAX_SKUS", 50),
		PushRateWindow:     getEnvAsDuration("PUSH_RATE_WINDOW", 5*time.Second),
		ImportBatchSize:    getEnvAsInt("IMPORT_BATCH_SIZE", 30),
		ImportBatchDelay:   getEnvAsDuration("IMPORT_BATCH_DELAY", 15*time.Second),
		ImportSkipImages:   getEnvAsBool("IMPORT_SKIP_IMAGES", false),
		SyncCooldown:       getEnvAsDuration("SYNC_COOLDOWN", 10*time.Second),
		SyncRecentMinutes:  getEnvAsInt("SYNC_RECENT_MINUTES", 15),
		SyncSweepBudget:    getEnvAsDuration("SYNC_SWEEP_BUDGET", 50*time.Second),
		SyncStaleAge:       getEnvAsDuration("SYNC_STALE_AGE", 24*time.Hour),
		SyncStaleBatchSize: getEnvAsInt("SYNC_STALE_BATCH", 20),
		SchedulerPoll:      getEnvAsDuration("SCHEDULER_POLL", 5*time.Second),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated value and drops empty items.
func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsDuration accepts Go durations ("15s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
