// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Activity
	ActiveWindowSeconds int

	// Priority
	PriorityCronSpec string
	PriorityBatchSize int

	// Fetch
	FetchTimeout     time.Duration
	FetchMaxSize     int64
	FetchLimit       int
	CollectorWorkers int
	ResultWorkers    int

	// Messaging API
	MessagingAPIBaseURL string
	MessagingAPIToken   string
	MessagingAPIRate    float64

	// Cache
	CacheTTL time.Duration

	// Media
	MediaWorkers     int
	MediaMaxAttempts int
	MediaBucket      string
	MediaS3Region    string
	MediaS3Endpoint  string

	// Rate Limit
	RateLimitGeneral int
	RateLimitSourceReg int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（未存在は無視）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ActiveWindowSeconds = getEnvInt("ACTIVE_WINDOW_SECONDS", 1800)
	cfg.PriorityCronSpec = getEnvString("PRIORITY_CRON_SPEC", "*/5 * * * *")
	cfg.PriorityBatchSize = getEnvInt("PRIORITY_BATCH_SIZE", 50)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchLimit = getEnvInt("FETCH_LIMIT", 50)
	cfg.CollectorWorkers = getEnvInt("COLLECTOR_WORKERS", 5)
	cfg.ResultWorkers = getEnvInt("RESULT_WORKERS", 5)
	cfg.MessagingAPIBaseURL = getEnvString("MESSAGING_API_BASE_URL", "https://t.me")
	cfg.MessagingAPIToken = getEnvString("MESSAGING_API_TOKEN", "")
	cfg.MessagingAPIRate = getEnvFloat("MESSAGING_API_RATE", 1.0)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.MediaWorkers = getEnvInt("MEDIA_WORKERS", 3)
	cfg.MediaMaxAttempts = getEnvInt("MEDIA_MAX_ATTEMPTS", 5)
	cfg.MediaBucket = getEnvString("MEDIA_BUCKET", "")
	cfg.MediaS3Region = getEnvString("MEDIA_S3_REGION", "us-east-1")
	cfg.MediaS3Endpoint = getEnvString("MEDIA_S3_ENDPOINT", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSourceReg = getEnvInt("RATE_LIMIT_SOURCE_REG", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
