// Package config builds the process configuration from environment variables.
// Binaries may seed the environment from a .env file before calling FromEnv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "chatgate/pkg/platform/strings"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Server     Server
	Moderation Moderation
	Storage    Storage
	Redis      RedisConfig
	Completion Completion
	Logging    Logging
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Moderation holds the strike and lockout policy.
type Moderation struct {
	StrikeThreshold int
	BlockDuration   time.Duration
	BlockedTerms    []string
}

type Storage struct {
	Backend     string
	DatabaseURL string
	Timeout     time.Duration
}

// RedisConfig configures the go-redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Completion configures the downstream chat-completion client.
type Completion struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Retries     int
	UseMock     bool
}

type Logging struct {
	Level  string
	Format string
}

// FromEnv reads the configuration. It fails on malformed values; call
// Validate for cross-field checks.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Server: Server{
			Addr:            getEnv("CHATGATE_ADDR", ":8080"),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Moderation: Moderation{
			StrikeThreshold: p.int("STRIKE_THRESHOLD", 3),
			BlockDuration:   time.Duration(p.int("BLOCK_MINUTES", 1440)) * time.Minute,
			BlockedTerms:    pstrings.SplitList(os.Getenv("MODERATION_BLOCKED_TERMS")),
		},
		Storage: Storage{
			Backend:     strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Timeout:     p.duration("STORAGE_TIMEOUT", 2*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     p.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Completion: Completion{
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			BaseURL:     strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			Model:       getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			MaxTokens:   p.int("OPENAI_MAX_TOKENS", 150),
			Temperature: p.float("OPENAI_TEMPERATURE", 0.7),
			Timeout:     p.duration("OPENAI_TIMEOUT", 30*time.Second),
			Retries:     p.int("OPENAI_RETRIES", 3),
			UseMock:     p.bool("USE_MOCK_OPENAI", false),
		},
		Logging: Logging{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Moderation.StrikeThreshold < 1 {
		return fmt.Errorf("STRIKE_THRESHOLD must be at least 1")
	}
	if c.Moderation.BlockDuration <= 0 {
		return fmt.Errorf("BLOCK_MINUTES must be positive")
	}
	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("STORAGE_TIMEOUT must be positive")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when STORAGE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if !c.Completion.UseMock && c.Completion.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required unless USE_MOCK_OPENAI=true")
	}
	if c.Completion.Retries < 1 {
		return fmt.Errorf("OPENAI_RETRIES must be at least 1")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser records the first malformed variable.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}
