package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the transcribe gateway service.
// Provider API keys are optional here; the orchestrator validates the key
// for the selected provider per request, after applying any per-request
// override.
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Gemini configuration
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel      string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiLegalModel string `envconfig:"GEMINI_LEGAL_MODEL" default:"gemini-2.5-pro"`
	// Payloads above this size go through the resumable upload protocol
	// instead of inline base64. Tracks the provider's inline request limit,
	// which may change.
	GeminiInlineLimitBytes  int64 `envconfig:"GEMINI_INLINE_LIMIT_BYTES" default:"10485760"`
	GeminiPollInitialMs     int   `envconfig:"GEMINI_POLL_INITIAL_MS" default:"500"`
	GeminiPollMaxIntervalMs int   `envconfig:"GEMINI_POLL_MAX_INTERVAL_MS" default:"3000"`
	GeminiPollMaxAttempts   int   `envconfig:"GEMINI_POLL_MAX_ATTEMPTS" default:"120"`

	// OpenAI (Whisper) configuration
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"whisper-1"`

	// AssemblyAI configuration
	AssemblyAIAPIKey          string `envconfig:"ASSEMBLYAI_API_KEY" default:""`
	AssemblyAIPollIntervalMs  int    `envconfig:"ASSEMBLYAI_POLL_INTERVAL_MS" default:"3000"`
	AssemblyAIPollMaxAttempts int    `envconfig:"ASSEMBLYAI_POLL_MAX_ATTEMPTS" default:"120"`

	// HTTP client timeout for provider calls, in seconds. Uploads of large
	// media need generous room.
	ProviderTimeoutSeconds int `envconfig:"PROVIDER_TIMEOUT_SECONDS" default:"300"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from a .env file if present, then from the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables,
// skipping .env lookup (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.GeminiInlineLimitBytes <= 0 {
		return nil, fmt.Errorf("GEMINI_INLINE_LIMIT_BYTES must be positive")
	}
	if cfg.GeminiPollMaxAttempts <= 0 || cfg.AssemblyAIPollMaxAttempts <= 0 {
		return nil, fmt.Errorf("poll attempt bounds must be positive")
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
