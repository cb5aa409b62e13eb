package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Ai       AIConfig
	Pipeline PipelineConfig
}

type AppConfig struct {
	Environment           string
	LogFilePath           string
	IndexingLogFilePath   string
	NatsURL               string
	RedisURL              string
	IndexingTopic         string
	SessionSweepInterval  int // minutes
	SessionMaxIdleMinutes int
}

type DatabaseConfig struct {
	Connection string
}

type AIConfig struct {
	OllamaBaseURL      string
	HuggingFaceBaseURL string
	HuggingFaceAPIKey  string
	LLMProvider        string // "ollama" | "huggingface"
	LLMModel           string // e.g. "llama3", "qwen2.5"
	LLMTimeoutSeconds  int
}

// PipelineConfig holds the thresholds of the answer-quality gates and the
// bounds of the in-process caches.
type PipelineConfig struct {
	ConfidenceBlockThreshold      float64
	ConfidenceWarnThreshold       float64
	ConfidenceDisclaimerThreshold float64
	ConfidenceBlockingEnabled     bool

	OutputMinLength int
	OutputMaxLength int
	OutputStrict    bool

	CitationMaxOrphans    int
	CitationRemoveInvalid bool

	DocumentMaxRetries      int
	DocumentFailureTTLHours int

	CoreferenceCacheSize int

	// DegradeOnContextFailure fills failed context lookups with defaults
	// instead of aborting the whole context build.
	DegradeOnContextFailure bool
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Environment:           getEnv("GO_ENV", "development"),
			LogFilePath:           getEnv("LOG_FILE_PATH", "logs/pipeline.log"),
			IndexingLogFilePath:   getEnv("INDEXING_LOG_FILE_PATH", "logs/indexing.log"),
			NatsURL:               getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
			IndexingTopic:         getEnv("INDEXING_TOPIC", "INDEX_DOCUMENT"),
			SessionSweepInterval:  getEnvAsInt("SESSION_SWEEP_INTERVAL_MINUTES", 10),
			SessionMaxIdleMinutes: getEnvAsInt("SESSION_MAX_IDLE_MINUTES", 60),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Ai: AIConfig{
			OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			HuggingFaceBaseURL: getEnv("HUGGINGFACE_BASE_URL", ""),
			HuggingFaceAPIKey:  getEnv("HUGGINGFACE_API_KEY", ""),
			LLMProvider:        getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:           getEnv("LLM_MODEL", "llama3"),
			LLMTimeoutSeconds:  getEnvAsInt("LLM_TIMEOUT_SECONDS", 120),
		},
		Pipeline: PipelineConfig{
			ConfidenceBlockThreshold:      getEnvAsFloat("CONFIDENCE_BLOCK_THRESHOLD", 0.3),
			ConfidenceWarnThreshold:       getEnvAsFloat("CONFIDENCE_WARN_THRESHOLD", 0.5),
			ConfidenceDisclaimerThreshold: getEnvAsFloat("CONFIDENCE_DISCLAIMER_THRESHOLD", 0.6),
			ConfidenceBlockingEnabled:     getEnvAsBool("CONFIDENCE_BLOCKING_ENABLED", true),
			OutputMinLength:               getEnvAsInt("OUTPUT_MIN_LENGTH", 10),
			OutputMaxLength:               getEnvAsInt("OUTPUT_MAX_LENGTH", 10000),
			OutputStrict:                  getEnvAsBool("OUTPUT_STRICT", false),
			CitationMaxOrphans:            getEnvAsInt("CITATION_MAX_ORPHANS", 0),
			CitationRemoveInvalid:         getEnvAsBool("CITATION_REMOVE_INVALID", true),
			DocumentMaxRetries:            getEnvAsInt("DOCUMENT_MAX_RETRIES", 3),
			DocumentFailureTTLHours:       getEnvAsInt("DOCUMENT_FAILURE_TTL_HOURS", 24),
			CoreferenceCacheSize:          getEnvAsInt("COREFERENCE_CACHE_SIZE", 200),
			DegradeOnContextFailure:       getEnvAsBool("CONTEXT_DEGRADE_ON_FAILURE", false),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
