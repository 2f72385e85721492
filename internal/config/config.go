package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const defaultPersona = "You are a Socratic mentor helping users develop critical thinking skills. " +
	"Ask probing questions, encourage deeper analysis, and guide users to discover insights themselves. " +
	"Be encouraging but challenging, helping them think through problems systematically. " +
	"Never lecture; ask at most two questions per reply."

type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"rethoric.db"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`

	// Session tokens are issued by the identity provider. Either a shared
	// HS256 secret or a JWKS endpoint must be configured.
	JWTSecret string `env:"JWT_SECRET"`
	JWKSURL   string `env:"JWKS_URL"`
	JWTIssuer string `env:"JWT_ISSUER"`

	// WebhookSecret may be empty at startup; the webhook endpoint then
	// rejects every delivery with a server error.
	WebhookSecret    string   `env:"WEBHOOK_SECRET"`
	AdminExternalIDs []string `env:"ADMIN_EXTERNAL_IDS" envSeparator:","`

	LLMProvider       string        `env:"LLM_PROVIDER" envDefault:"gemini"`
	LLMModel          string        `env:"LLM_MODEL"`
	GeminiAPIKey      string        `env:"GEMINI_API_KEY"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	OllamaBaseURL     string        `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	LLMRateLimit      float64       `env:"LLM_RATE_LIMIT" envDefault:"5"`
	LLMMaxAttempts    int           `env:"LLM_MAX_ATTEMPTS" envDefault:"3"`
	LLMRetryBaseDelay time.Duration `env:"LLM_RETRY_BASE_DELAY" envDefault:"1s"`
	MentorPersona     string        `env:"MENTOR_PERSONA"`
}

// Load reads .env (when present) and the process environment, then
// validates the result.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load without validation, for commands that only touch the
// database.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.MentorPersona == "" {
		cfg.MentorPersona = defaultPersona
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" && c.JWKSURL == "" {
		return errors.New("JWT_SECRET or JWKS_URL environment variable is required")
	}
	if c.LLMMaxAttempts < 1 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be at least 1, got %d", c.LLMMaxAttempts)
	}

	switch strings.ToLower(c.LLMProvider) {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY environment variable is required for the gemini provider")
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return errors.New("OPENAI_API_KEY or OPENAI_BASE_URL is required for the openai provider")
		}
	case "ollama":
		if c.OllamaBaseURL == "" {
			return errors.New("OLLAMA_BASE_URL is required for the ollama provider")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}
	return nil
}

// IsAdminExternalID reports whether a newly provisioned user should start
// with the admin role.
func (c *Config) IsAdminExternalID(externalID string) bool {
	for _, id := range c.AdminExternalIDs {
		if strings.TrimSpace(id) == externalID {
			return true
		}
	}
	return false
}
