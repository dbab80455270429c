// Package config loads all runtime configuration from the environment with
// sensible defaults. One configuration surface: every tunable the pipeline
// reads lives here, nothing is read from the environment elsewhere.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log shipping configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ProvidersConfig selects the inference provider and its models. Engine is
// resolved once at startup into a concrete client; nothing downstream
// branches on the provider name.
type ProvidersConfig struct {
	Engine           string // "openai"|"anthropic"
	OpenAIKey        string
	AnthropicKey     string
	ExtractModel     string
	ClassifyModel    string
	RequestTimeout   time.Duration
	OpenAIBaseURL    string
	AnthropicBaseURL string
}

// ClassifyConfig tunes page classification.
type ClassifyConfig struct {
	Mode    string // "ai"|"heuristic"
	Workers int
	RateRPM int
}

// ExtractConfig tunes extraction scheduling, retry and cost control.
type ExtractConfig struct {
	BatchThreshold int
	MaxBatchSize   int
	PageTimeout    time.Duration
	RateRPM        int
	CostCeiling    float64
	CostPerImage   float64
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxRetries     int
	MatchThreshold float64
}

// RasterConfig tunes PDF rasterization.
type RasterConfig struct {
	DPI     int
	Quality int
	Timeout time.Duration
}

// QueueConfig defines Redis connectivity and stream names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// StorageConfig defines S3 result storage and its encryption secret.
type StorageConfig struct {
	Enabled       bool
	Bucket        string
	Region        string
	Prefix        string
	AccessKey     string
	SecretKey     string
	EncryptionKey string
	LocalDir      string
}

// HTTPConfig defines the intake server.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Providers ProvidersConfig
	Classify  ClassifyConfig
	Extract   ExtractConfig
	Raster    RasterConfig
	Queue     QueueConfig
	Storage   StorageConfig
	HTTP      HTTPConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/finextractor.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_finextractor",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Providers = ProvidersConfig{
		Engine:           getEnv("INFERENCE_ENGINE", "openai"),
		OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
		AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
		ExtractModel:     getEnv("EXTRACT_MODEL", "gpt-4.1"),
		ClassifyModel:    getEnv("CLASSIFY_MODEL", "gpt-4.1-mini"),
		RequestTimeout:   parseDuration(getEnv("REQUEST_TIMEOUT", "60s"), 60*time.Second),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
	}

	cfg.Classify = ClassifyConfig{
		Mode:    getEnv("CLASSIFY_MODE", "ai"),
		Workers: parseInt(getEnv("CLASSIFY_WORKERS", "10"), 10),
		RateRPM: parseInt(getEnv("CLASSIFY_RATE_RPM", "120"), 120),
	}

	cfg.Extract = ExtractConfig{
		BatchThreshold: parseInt(getEnv("EXTRACT_BATCH_THRESHOLD", "8"), 8),
		MaxBatchSize:   parseInt(getEnv("EXTRACT_MAX_BATCH_SIZE", "5"), 5),
		PageTimeout:    parseDuration(getEnv("EXTRACT_PAGE_TIMEOUT", "90s"), 90*time.Second),
		RateRPM:        parseInt(getEnv("EXTRACT_RATE_RPM", "80"), 80),
		CostCeiling:    parseFloat(getEnv("EXTRACT_COST_CEILING", "0"), 0),
		CostPerImage:   parseFloat(getEnv("EXTRACT_COST_PER_IMAGE", "0.01"), 0.01),
		RetryBaseDelay: parseDuration(getEnv("RETRY_BASE_DELAY", "1s"), time.Second),
		RetryMaxDelay:  parseDuration(getEnv("RETRY_MAX_DELAY", "60s"), 60*time.Second),
		MaxRetries:     parseInt(getEnv("MAX_RETRIES", "3"), 3),
		MatchThreshold: parseFloat(getEnv("FIELD_MATCH_THRESHOLD", "0.6"), 0.6),
	}

	cfg.Raster = RasterConfig{
		DPI:     parseInt(getEnv("RASTER_DPI", "200"), 200),
		Quality: parseInt(getEnv("RASTER_QUALITY", "85"), 85),
		Timeout: parseDuration(getEnv("RASTER_TIMEOUT", "120s"), 120*time.Second),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:documents"),
		Group:        getEnv("QUEUE_GROUP", "workers:extract"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
	}

	cfg.Storage = StorageConfig{
		Enabled:       parseBool(getEnv("S3_ENABLED", "0")),
		Bucket:        getEnv("S3_BUCKET", ""),
		Region:        getEnv("AWS_REGION", "us-east-1"),
		Prefix:        getEnv("S3_PREFIX", "results"),
		AccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		EncryptionKey: getEnv("RESULT_ENCRYPTION_KEY", ""),
		LocalDir:      getEnv("RESULT_LOCAL_DIR", "results"),
	}

	cfg.HTTP = HTTPConfig{
		Addr:            getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: parseDuration(getEnv("HTTP_SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
