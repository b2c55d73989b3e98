package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	DBDriver  string
	DBDSN     string
	JWTSecret string
	// CORSOrigins "*" allows any origin
	CORSOrigins []string

	// optional: empty RedisAddr disables redis pub/sub and rate limiting
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionCreateLimit  int
	SessionCreateWindow time.Duration

	// AI provider
	AIProvider        string
	LLMTemperature    float64
	LLMMaxRetries     int
	GroqBaseURL       string
	GroqAPIKey        string
	GroqModel         string
	TranscribeModel   string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
	GeminiAPIKey      string
	GeminiVisionModel string
	TempDir           string

	// session lifecycle
	InitAttempts        int
	InitRetryDelay      time.Duration
	AdapterInitTimeout  time.Duration
	ShutdownGrace       time.Duration
	RecoveryConcurrency int

	// whatsapp device store (sqlite or postgres)
	WAStoreDriver string
	WAStoreDSN    string

	// rabbitMQ, optional
	RabbitURL      string
	RabbitExchange string
	RabbitQueue    string
	AuditWorkers   int
}

func Load() Config {
	// .env is optional; real env vars win
	_ = godotenv.Load()

	driver := strings.ToLower(envStr("DB_DRIVER", "mysql"))

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/ai_salesbot?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		switch driver {
		case "postgres":
			dsn = "host=localhost user=postgres password=postgres dbname=ai_salesbot port=5432 sslmode=disable"
		case "sqlite":
			dsn = "file:ai_salesbot.db?_pragma=foreign_keys(1)"
		default:
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
				"app", "apppass", "127.0.0.1", "3306", "ai_salesbot",
			)
		}
	}

	return Config{
		HTTPAddr:  envStr("HTTP_ADDR", ":8080"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		DBDriver:  driver,
		DBDSN:     dsn,
		JWTSecret: envStr("JWT_SECRET", "dev-secret-change-me"),

		CORSOrigins: envList("CORS_ORIGINS", "*"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		SessionCreateLimit:  envInt("SESSION_CREATE_LIMIT", 5),
		SessionCreateWindow: envDuration("SESSION_CREATE_WINDOW", 15*time.Minute),

		AIProvider:        strings.ToLower(envStr("AI_PROVIDER", "groq")),
		LLMTemperature:    envFloat("LLM_TEMPERATURE", 0.7),
		LLMMaxRetries:     envInt("LLM_MAX_RETRIES", 2),
		GroqBaseURL:       envStr("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqAPIKey:        os.Getenv("GROQ_API_KEY"),
		GroqModel:         envStr("GROQ_MODEL", "llama-3.3-70b-versatile"),
		TranscribeModel:   envStr("GROQ_TRANSCRIBE_MODEL", "whisper-large-v3-turbo"),
		OllamaBaseURL:     envStr("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       envStr("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: envStr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   envStr("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiVisionModel: envStr("GEMINI_VISION_MODEL", "gemini-1.5-flash"),
		TempDir:           os.Getenv("TEMP_DIR"),

		InitAttempts:        envInt("SESSION_INIT_ATTEMPTS", 3),
		InitRetryDelay:      envDuration("SESSION_INIT_RETRY_DELAY", 5*time.Second),
		AdapterInitTimeout:  envDuration("ADAPTER_INIT_TIMEOUT", 60*time.Second),
		ShutdownGrace:       envDuration("SHUTDOWN_GRACE", 15*time.Second),
		RecoveryConcurrency: envInt("RECOVERY_CONCURRENCY", 4),

		WAStoreDriver: strings.ToLower(envStr("WA_STORE_DRIVER", "sqlite")),
		WAStoreDSN:    envStr("WA_STORE_DSN", "file:wastore.db?_pragma=foreign_keys(1)"),

		RabbitURL:      os.Getenv("RABBIT_URL"),
		RabbitExchange: envStr("RABBIT_EXCHANGE", "session.events"),
		RabbitQueue:    envStr("RABBIT_QUEUE", "session_events_audit"),
		AuditWorkers:   envInt("AUDIT_WORKERS", 4),
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key, def string) []string {
	var out []string
	for _, part := range strings.Split(envStr(key, def), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
