// Package config loads process configuration from the environment,
// following the teacher's plain os.Getenv + typed struct convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig holds every environment-recognized setting from spec.md §6.
type AppConfig struct {
	Port string

	StoragePath        string
	MultiUserMode      bool
	LogLevel           string
	NodeEnv            string
	GmailBatchSize     int64
	TokenEncryptionKey string
	SessionTTL         time.Duration
	JobWorkerCount     int
	CacheDefaultTTL    time.Duration
	RulesConfigPath    string
}

// Load reads configuration from the environment, applying the same
// defaults the teacher applies for PORT.
func Load() (*AppConfig, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	storagePath := os.Getenv("STORAGE_PATH")
	if storagePath == "" {
		storagePath = "./data"
	}

	cfg := &AppConfig{
		Port:               port,
		StoragePath:        storagePath,
		MultiUserMode:      os.Getenv("MULTI_USER_MODE") == "true",
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		NodeEnv:            getEnvOrDefault("NODE_ENV", "development"),
		GmailBatchSize:     getEnvInt64OrDefault("GMAIL_BATCH_SIZE", 100),
		TokenEncryptionKey: os.Getenv("TOKEN_ENCRYPTION_KEY"),
		SessionTTL:         getEnvDurationOrDefault("SESSION_TTL", 30*time.Minute),
		JobWorkerCount:     int(getEnvInt64OrDefault("JOB_WORKER_COUNT", 3)),
		CacheDefaultTTL:    getEnvDurationOrDefault("CACHE_DEFAULT_TTL", time.Hour),
		RulesConfigPath:    os.Getenv("RULES_CONFIG_PATH"),
	}

	if cfg.NodeEnv == "production" && cfg.TokenEncryptionKey == "" {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required in production")
	}

	return cfg, nil
}

// Addr returns the debug HTTP server's listen address.
func (c *AppConfig) Addr() string { return fmt.Sprintf(":%s", c.Port) }

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt64OrDefault(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
