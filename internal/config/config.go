// File: internal/config/config.go
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort   string `env:"SERVER_PORT" envDefault:"8080"`
	Environment  string `env:"ENV"`
	JWTSecretKey string `env:"JWT_SECRET_KEY"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"internist.db"`

	// Redis mirrors typing status for other processes. Empty disables it
	// and typing status is stored through gorm instead.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	ClientTimeout     time.Duration `env:"CLIENT_TIMEOUT" envDefault:"60s"`
	TypingTimeout     time.Duration `env:"TYPING_TIMEOUT" envDefault:"10s"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE" envDefault:"256"`
	MaxMessageBytes   int64         `env:"MAX_MESSAGE_BYTES" envDefault:"65536"`
	FrameRateLimit    float64       `env:"FRAME_RATE_LIMIT" envDefault:"20"`
	FrameRateBurst    int           `env:"FRAME_RATE_BURST" envDefault:"40"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	// ChatAccessPolicy is "participants" (owner and participant rows) or "open".
	ChatAccessPolicy string `env:"CHAT_ACCESS_POLICY" envDefault:"participants"`

	AssistantEnabled bool   `env:"ASSISTANT_ENABLED" envDefault:"false"`
	LLMAPIKey        string `env:"LLM_API_KEY"`
	LLMBaseURL       string `env:"LLM_BASE_URL"`
	LLMModel         string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
}

// Load reads configuration from environment variables or .env file.
func Load() (*Config, error) {
	if !isProduction(lookupEnv("ENV")) {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found; continuing with environment variables")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges, and required secrets in production.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive")
	}
	if c.ClientTimeout < c.HeartbeatInterval {
		return fmt.Errorf("CLIENT_TIMEOUT (%s) must not be shorter than HEARTBEAT_INTERVAL (%s)", c.ClientTimeout, c.HeartbeatInterval)
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be positive")
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be positive")
	}
	switch c.ChatAccessPolicy {
	case "participants", "open":
	default:
		return fmt.Errorf("CHAT_ACCESS_POLICY must be \"participants\" or \"open\", got %q", c.ChatAccessPolicy)
	}

	if c.IsProduction() {
		missing := []string{}
		if c.JWTSecretKey == "" {
			missing = append(missing, "JWT_SECRET_KEY")
		}
		if c.AssistantEnabled && c.LLMAPIKey == "" {
			missing = append(missing, "LLM_API_KEY")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required production environment variables: %v", missing)
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return isProduction(c.Environment)
}

// DevelopmentJWTSecret signs tokens when JWT_SECRET_KEY is unset outside production.
const DevelopmentJWTSecret = "internist-hub-development-secret"

// JWTSecret returns the signing secret, falling back to DevelopmentJWTSecret
// outside production. Validate rejects an empty key in production.
func (c *Config) JWTSecret() string {
	if c.JWTSecretKey == "" && !c.IsProduction() {
		return DevelopmentJWTSecret
	}
	return c.JWTSecretKey
}

func (c *Config) Addr() string {
	return ":" + c.ServerPort
}

func isProduction(env string) bool {
	return strings.ToLower(env) == "production"
}
