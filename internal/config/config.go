package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/config"
)

const (
	UsageBackendPostgres = "postgres"
	UsageBackendRedis    = "redis"
)

// Config stores environment configuration for the assistant service.
type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string

	LLMProvider  string
	LLMModel     string
	LLMAPIKey    string
	LLMAPIURL    string
	LLMMaxTokens int

	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingAPIURL   string

	ClassifierTimeout time.Duration

	RetrievalTopK          int
	RetrievalTimeout       time.Duration
	RetrievalMinSimilarity float64
	IndexCacheTTL          time.Duration

	GenerationTimeout  time.Duration
	HistoryTurns       int
	MaxHistoryMessages int
	FileWindow         int

	UsageBackend       string
	UsageFlushInterval time.Duration
	RedisAddrs         []string
	RedisPassword      string
	RedisDB            int
	KafkaBrokers       []string
	UsageKafkaTopic    string

	ChatRateLimitHour  int
	RateLimitOverrides map[string]int
}

// LoadConfig loads the assistant configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:        config.GetEnv("PORT", "18030"),
		DatabaseURL: config.RequireEnv("DATABASE_URL"),
		JWTSecret:   config.RequireEnv("JWT_SECRET"),

		LLMProvider:  config.GetEnv("LLM_PROVIDER", "openai"),
		LLMModel:     config.GetEnv("LLM_MODEL", ""),
		LLMAPIKey:    config.GetEnv("LLM_API_KEY", ""),
		LLMAPIURL:    config.GetEnv("LLM_API_URL", ""),
		LLMMaxTokens: config.GetEnvInt("LLM_MAX_TOKENS", 4096),

		EmbeddingProvider: config.GetEnv("EMBEDDING_PROVIDER", config.GetEnv("LLM_PROVIDER", "openai")),
		EmbeddingModel:    config.GetEnv("EMBEDDING_MODEL", ""),
		EmbeddingAPIKey:   config.GetEnv("EMBEDDING_API_KEY", config.GetEnv("LLM_API_KEY", "")),
		EmbeddingAPIURL:   config.GetEnv("EMBEDDING_API_URL", config.GetEnv("LLM_API_URL", "")),

		ClassifierTimeout: config.GetEnvDuration("CLASSIFIER_TIMEOUT", 15*time.Second),

		RetrievalTopK:          config.GetEnvInt("RETRIEVAL_TOP_K", 5),
		RetrievalTimeout:       config.GetEnvDuration("RETRIEVAL_TIMEOUT", 8*time.Second),
		RetrievalMinSimilarity: config.GetEnvFloat("RETRIEVAL_MIN_SIMILARITY", 0.3),
		IndexCacheTTL:          config.GetEnvDuration("RETRIEVAL_INDEX_CACHE_TTL", 5*time.Minute),

		GenerationTimeout:  config.GetEnvDuration("GENERATION_TIMEOUT", 90*time.Second),
		HistoryTurns:       config.GetEnvInt("ASSISTANT_HISTORY_TURNS", 10),
		MaxHistoryMessages: config.GetEnvInt("ASSISTANT_MAX_HISTORY_MESSAGES", 20),
		FileWindow:         config.GetEnvInt("ASSISTANT_FILE_WINDOW", 5),

		UsageBackend:       parseUsageBackend(config.GetEnv("USAGE_BACKEND", UsageBackendPostgres)),
		UsageFlushInterval: config.GetEnvDuration("USAGE_FLUSH_INTERVAL", 30*time.Second),
		RedisAddrs:         config.GetEnvList("REDIS_ADDRS"),
		RedisPassword:      config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:            config.GetEnvInt("REDIS_DB", 0),
		KafkaBrokers:       config.GetEnvList("KAFKA_BROKERS"),
		UsageKafkaTopic:    config.GetEnv("USAGE_KAFKA_TOPIC", "assistant.usage_events"),

		ChatRateLimitHour:  config.GetEnvInt("ASSISTANT_CHAT_RATE_LIMIT_PER_HOUR", 0),
		RateLimitOverrides: parseRateLimitOverrides(config.GetEnv("ASSISTANT_CHAT_RATE_LIMIT_OVERRIDES", "")),
	}
}

func parseUsageBackend(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), UsageBackendRedis) {
		return UsageBackendRedis
	}
	return UsageBackendPostgres
}

// parseRateLimitOverrides reads "orgID:limit" pairs separated by commas.
// Malformed entries are skipped.
func parseRateLimitOverrides(raw string) map[string]int {
	overrides := map[string]int{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return overrides
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			continue
		}
		orgID := strings.TrimSpace(parts[0])
		if orgID == "" {
			continue
		}
		limit, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || limit < 0 {
			continue
		}
		overrides[orgID] = limit
	}
	return overrides
}
