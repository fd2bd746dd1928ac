// Package config loads environment-driven configuration for docpipe.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider identifies an embedding/captioning backend.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Default embedding backend, used when a collection does not
	// name its own vendor.
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int
	OllamaHost     string
	OpenAIAPIKey   string

	// Captioning model for the enriched strategy
	CaptionModel string

	// Executor
	Workers          int
	SinkBatchSize    int
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration

	// Status API
	HTTPPort            string
	PollIntervalSeconds int

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "docpipe"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "ingestion"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		EmbedProvider:  Provider(getEnv("DOCPIPE_EMBED_PROVIDER", string(ProviderOllama))),
		EmbedModel:     getEnv("DOCPIPE_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("DOCPIPE_EMBED_DIMENSION", 384),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),

		CaptionModel: getEnv("DOCPIPE_CAPTION_MODEL", "llava"),

		Workers:          getEnvInt("DOCPIPE_WORKERS", 4),
		SinkBatchSize:    getEnvInt("DOCPIPE_SINK_BATCH", 32),
		HeartbeatTimeout: getEnvDuration("DOCPIPE_HEARTBEAT_TIMEOUT", 2*time.Minute),
		SweepInterval:    getEnvDuration("DOCPIPE_SWEEP_INTERVAL", 30*time.Second),

		HTTPPort:            getEnv("DOCPIPE_PORT", "8585"),
		PollIntervalSeconds: getEnvInt("DOCPIPE_POLL_INTERVAL", 3),

		LogFile:  getEnv("DOCPIPE_LOG_FILE", "/tmp/docpipe.log"),
		LogLevel: parseLogLevel(getEnv("DOCPIPE_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
