package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Ai         AIConfig
	Moderation ModerationConfig
	Guard      GuardConfig
	Window     WindowConfig
	Budget     BudgetConfig
	Retrieval  RetrievalConfig
	Timeouts   TimeoutConfig
	Tracing    TracingConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	StateBackend       string // "redis" or "memory"
	ThreadBackend      string // "postgres" or "memory"
	IndexTopic         string
}

type DatabaseConfig struct {
	Connection string
}

type AIConfig struct {
	LLMProvider       string // "ollama" or "huggingface"
	LLMModel          string
	LLMBaseURL        string
	LLMApiKey         string
	SummaryModel      string // empty means LLMModel
	EmbeddingProvider string // "ollama", "jina" or "gemini"
	OllamaBaseURL     string
	EmbeddingModel    string
	EmbeddingApiKey   string
}

type ModerationConfig struct {
	Provider string // "openai" or "none"
	BaseURL  string
	ApiKey   string
	Model    string
}

type GuardConfig struct {
	MinInputLength     int
	MaxInputLength     int
	ViolationThreshold int
	Cooldown           time.Duration
	RequestsPerMinute  int
	RequestBurst       int
}

type WindowConfig struct {
	SummaryThreshold  int
	MaxWindowMessages int
	TokenCeiling      int
}

type BudgetConfig struct {
	DailyTokenCeiling int64
}

type RetrievalConfig struct {
	Limit          int
	MinQueryLength int
	CorpusId       string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

type TimeoutConfig struct {
	Moderation time.Duration
	Retrieval  time.Duration
	Completion time.Duration
	Summary    time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			StateBackend:       getEnv("STATE_BACKEND", "redis"),
			ThreadBackend:      getEnv("THREAD_BACKEND", "postgres"),
			IndexTopic:         getEnv("INDEX_TOPIC", "INDEX_PASSAGE"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Ai: AIConfig{
			LLMProvider:       getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:          getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
			LLMApiKey:         getEnv("LLM_API_KEY", ""),
			SummaryModel:      getEnv("LLM_SUMMARY_MODEL", ""),
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			EmbeddingModel:    getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			EmbeddingApiKey:   getEnv("EMBEDDING_API_KEY", ""),
		},
		Moderation: ModerationConfig{
			Provider: getEnv("MODERATION_PROVIDER", "openai"),
			BaseURL:  getEnv("MODERATION_BASE_URL", "https://api.openai.com/v1"),
			ApiKey:   getEnv("MODERATION_API_KEY", ""),
			Model:    getEnv("MODERATION_MODEL", "omni-moderation-latest"),
		},
		Guard: GuardConfig{
			MinInputLength:     getEnvAsInt("GUARD_MIN_INPUT_LENGTH", 2),
			MaxInputLength:     getEnvAsInt("GUARD_MAX_INPUT_LENGTH", 2000),
			ViolationThreshold: getEnvAsInt("GUARD_VIOLATION_THRESHOLD", 3),
			Cooldown:           getEnvAsDuration("GUARD_COOLDOWN", 30*time.Minute),
			RequestsPerMinute:  getEnvAsInt("GUARD_REQUESTS_PER_MINUTE", 12),
			RequestBurst:       getEnvAsInt("GUARD_REQUEST_BURST", 4),
		},
		Window: WindowConfig{
			SummaryThreshold:  getEnvAsInt("WINDOW_SUMMARY_THRESHOLD", 20),
			MaxWindowMessages: getEnvAsInt("WINDOW_MAX_MESSAGES", 10),
			TokenCeiling:      getEnvAsInt("WINDOW_TOKEN_CEILING", 3000),
		},
		Budget: BudgetConfig{
			DailyTokenCeiling: int64(getEnvAsInt("BUDGET_DAILY_TOKEN_CEILING", 200000)),
		},
		Retrieval: RetrievalConfig{
			Limit:          getEnvAsInt("RETRIEVAL_LIMIT", 5),
			MinQueryLength: getEnvAsInt("RETRIEVAL_MIN_QUERY_LENGTH", 3),
			CorpusId:       getEnv("RETRIEVAL_CORPUS_ID", "kjv"),
		},
		Timeouts: TimeoutConfig{
			Moderation: getEnvAsDuration("TIMEOUT_MODERATION", 10*time.Second),
			Retrieval:  getEnvAsDuration("TIMEOUT_RETRIEVAL", 5*time.Second),
			Completion: getEnvAsDuration("TIMEOUT_COMPLETION", 60*time.Second),
			Summary:    getEnvAsDuration("TIMEOUT_SUMMARY", 30*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:     getEnv("OTEL_ENABLED", "false") == "true",
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "biblestudy-be"),
			SampleRatio: getEnvAsFloat("OTEL_SAMPLE_RATIO", 1),
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

// getEnvAsDuration accepts Go duration strings ("30m", "10s").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil && value > 0 {
		return value
	}
	return fallback
}
