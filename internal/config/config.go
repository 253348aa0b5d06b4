package config

// #region imports
import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// #endregion imports

// #region config

// Config holds all runtime settings, loaded from environment variables.
type Config struct {
	// Storage
	DBPath string // SQLite database path

	// Language-generation capability (OpenAI-compatible endpoint)
	LLMBaseURL    string
	LLMAPIKey     string
	LLMChatModel  string
	LLMEmbedModel string
	LLMTimeout    time.Duration

	// Retrieval
	BlendWeight float64 // vector weight w in the lexical/vector blend, [0,1]
	DefaultTopK int     // candidate bound when the caller passes none
	MaxResults  int     // hard cap on returned recommendations

	// Rationale generation
	RationaleConcurrency int
	RationaleTimeout     time.Duration

	// Personalization
	AffinityDecay float64
	AffinityClip  float64

	// Rules
	RulesConfigPath string // optional YAML override, empty = built-in defaults

	// HTTP transport
	HTTPAddr string

	// Logging
	LogLevel string
}

// #endregion config

// #region load

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present (missing file is not an error).
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DBPath:        envOr("ADVISOR_DB", "module_advisor.db"),
		LLMBaseURL:    envOr("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:     os.Getenv("LLM_API_KEY"),
		LLMChatModel:  envOr("LLM_CHAT_MODEL", "gpt-4o-mini"),
		LLMEmbedModel: envOr("LLM_EMBED_MODEL", "text-embedding-3-large"),
		LLMTimeout:    envDurationOr("LLM_TIMEOUT", 30*time.Second),

		BlendWeight: envFloatOr("RETRIEVAL_BLEND_WEIGHT", 0.6),
		DefaultTopK: envIntOr("RETRIEVAL_TOP_K", 10),
		MaxResults:  envIntOr("MAX_RESULTS", 5),

		RationaleConcurrency: envIntOr("RATIONALE_CONCURRENCY", 3),
		RationaleTimeout:     envDurationOr("RATIONALE_TIMEOUT", 20*time.Second),

		AffinityDecay: envFloatOr("AFFINITY_DECAY", 0.8),
		AffinityClip:  envFloatOr("AFFINITY_CLIP", 0.15),

		RulesConfigPath: os.Getenv("RULES_CONFIG"),

		HTTPAddr: envOr("HTTP_ADDR", ":8080"),
		LogLevel: envOr("LOG_LEVEL", "info"),
	}
}

// #endregion load

// #region logger

// NewLogger builds the process-wide logrus logger from config.
func NewLogger(cfg Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// #endregion logger

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// #endregion helpers
