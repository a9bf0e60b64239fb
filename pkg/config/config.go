// Package config centralizes environment-variable loading for every
// component of the pipeline, following the getEnvOrDefault/Validate idiom
// tarsy uses for its database configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object produced by Load and passed
// down to every component at startup.
type Config struct {
	Port   string
	APIKey string

	Database DatabaseConfig
	Queue    QueueConfig
	Object   ObjectStoreConfig
	Pipeline PipelineConfig
	Summary  SummaryConfig
}

// DatabaseConfig configures the Event Store's Postgres connection.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// QueueConfig configures the Redis Stream Queue and Consumer Loop.
type QueueConfig struct {
	URL                string
	Stream             string
	ConsumerGroup      string
	BlockMs            int
	ClaimIdleMs        int
	ConsumerMaxRetries int
	ReadCount          int64
	ClaimCount         int64
}

// ObjectStoreConfig configures the Object Store collaborator.
type ObjectStoreConfig struct {
	Bucket   string
	Endpoint string
	Region   string
}

// PipelineConfig configures the Transcript Pipeline's worker pool.
type PipelineConfig struct {
	PoolSize       int
	PendingMax     int
	DownloadRetry  int
	StageTimeout   time.Duration
	RecoveryDelay  time.Duration
	StuckCooldown  time.Duration
	PricingTablePath string
}

// SummaryConfig configures the optional LLM summarization stage.
type SummaryConfig struct {
	Enabled bool
	Model   string
	Timeout time.Duration
}

// Load reads and validates configuration from the environment. Missing
// required variables are a fatal configuration error (spec §7).
func Load() (*Config, error) {
	cfg := &Config{
		Port:   getEnvOrDefault("PORT", "3000"),
		APIKey: os.Getenv("API_KEY"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    mustAtoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25")),
			MaxIdleConns:    mustAtoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10")),
			ConnMaxLifetime: mustDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h")),
			ConnMaxIdleTime: mustDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m")),
		},
		Queue: QueueConfig{
			URL:                os.Getenv("QUEUE_URL"),
			Stream:              getEnvOrDefault("QUEUE_STREAM", "fuelcode:events"),
			ConsumerGroup:       getEnvOrDefault("QUEUE_CONSUMER_GROUP", "fuelcode-consumers"),
			BlockMs:             mustAtoi(getEnvOrDefault("CONSUMER_BLOCK_MS", "5000")),
			ClaimIdleMs:         mustAtoi(getEnvOrDefault("CONSUMER_CLAIM_IDLE_MS", "60000")),
			ConsumerMaxRetries:  mustAtoi(getEnvOrDefault("PIPELINE_CONSUMER_MAX_RETRIES", "3")),
			ReadCount:           10,
			ClaimCount:          100,
		},
		Object: ObjectStoreConfig{
			Bucket:   os.Getenv("OBJECT_STORE_BUCKET"),
			Endpoint: os.Getenv("OBJECT_STORE_ENDPOINT"),
			Region:   getEnvOrDefault("OBJECT_STORE_REGION", "us-east-1"),
		},
		Pipeline: PipelineConfig{
			PoolSize:         mustAtoi(getEnvOrDefault("PIPELINE_POOL_SIZE", "6")),
			PendingMax:       mustAtoi(getEnvOrDefault("PIPELINE_PENDING_MAX", "50")),
			DownloadRetry:    3,
			StageTimeout:     mustDuration(getEnvOrDefault("PIPELINE_STAGE_TIMEOUT", "2m")),
			RecoveryDelay:    mustDuration(getEnvOrDefault("RECOVERY_STARTUP_DELAY", "5s")),
			StuckCooldown:    mustDuration(getEnvOrDefault("RECOVERY_STUCK_COOLDOWN", "5m")),
			PricingTablePath: os.Getenv("PRICING_TABLE_PATH"),
		},
		Summary: SummaryConfig{
			Enabled: getEnvOrDefault("SUMMARY_ENABLED", "false") == "true",
			Model:   getEnvOrDefault("SUMMARY_MODEL", "claude-haiku-4-5"),
			Timeout: mustDuration(getEnvOrDefault("SUMMARY_TIMEOUT", "60s")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every required environment variable was supplied.
// A missing required variable is a fatal configuration error (spec §7).
func (c *Config) Validate() error {
	var errs []string
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Queue.URL == "" {
		errs = append(errs, "QUEUE_URL is required")
	}
	if c.APIKey == "" {
		errs = append(errs, "API_KEY is required")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, "DB_MAX_IDLE_CONNS cannot exceed DB_MAX_OPEN_CONNS")
	}
	if c.Pipeline.PoolSize < 1 {
		errs = append(errs, "PIPELINE_POOL_SIZE must be at least 1")
	}
	if c.Pipeline.PendingMax < 1 {
		errs = append(errs, "PIPELINE_PENDING_MAX must be at least 1")
	}
	if len(errs) == 0 {
		return nil
	}
	msg := "invalid configuration:"
	for _, e := range errs {
		msg += "\n  - " + e
	}
	return fmt.Errorf("%s", msg)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
