package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	LockLocal = "local"
	LockRedis = "redis"

	storeWriteAllowance = time.Second
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	DBMinConns   int32  `envconfig:"DRONEWATCH_DB_MIN_CONNS" default:"1"`
	DBMaxConns   int32  `envconfig:"DRONEWATCH_DB_MAX_CONNS" default:"8"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	QueueKey      string `envconfig:"QUEUE_KEY" default:"dronewatch:candidates"`

	LockBackend string        `envconfig:"LOCK_BACKEND" default:"local"`
	LockTTL     time.Duration `envconfig:"LOCK_TTL" default:"5s"`

	EmbeddingProvider   string        `envconfig:"EMBEDDING_PROVIDER" default:"http"`
	EmbeddingEndpoint   string        `envconfig:"EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:""`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"0"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"300ms"`

	ReasoningPrimary   string        `envconfig:"REASONING_PRIMARY" default:"none"`
	ReasoningSecondary string        `envconfig:"REASONING_SECONDARY" default:"none"`
	ReasoningTimeout   time.Duration `envconfig:"REASONING_TIMEOUT" default:"1000ms"`

	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL   string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel     string `envconfig:"OPENAI_MODEL" default:""`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY" default:""`
	AnthropicModel  string `envconfig:"ANTHROPIC_MODEL" default:""`
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel     string `envconfig:"GEMINI_MODEL" default:""`
	LocalLLMBaseURL string `envconfig:"LOCAL_LLM_BASE_URL" default:"http://127.0.0.1:8080/v1"`
	LocalLLMModel   string `envconfig:"LOCAL_LLM_MODEL" default:""`

	MatchProfilePath string `envconfig:"MATCH_PROFILE_PATH" default:""`

	HTTPHost           string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort           int    `envconfig:"HTTP_PORT" default:"8090"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

var (
	embeddingProviders = map[string]struct{}{"http": {}, "openai": {}, "gemini": {}, "none": {}}
	reasoningProviders = map[string]struct{}{"openai": {}, "anthropic": {}, "gemini": {}, "local": {}, "none": {}}
)

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.LockBackend = strings.ToLower(strings.TrimSpace(c.LockBackend))
	c.EmbeddingProvider = strings.ToLower(strings.TrimSpace(c.EmbeddingProvider))
	c.ReasoningPrimary = strings.ToLower(strings.TrimSpace(c.ReasoningPrimary))
	c.ReasoningSecondary = strings.ToLower(strings.TrimSpace(c.ReasoningSecondary))
	if c.EmbeddingProvider == "" {
		c.EmbeddingProvider = "none"
	}
	if c.ReasoningPrimary == "" {
		c.ReasoningPrimary = "none"
	}
	if c.ReasoningSecondary == "" {
		c.ReasoningSecondary = "none"
	}
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q", StoreMemory, StorePostgres)
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DRONEWATCH_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DRONEWATCH_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DRONEWATCH_DB_MIN_CONNS (%d) cannot exceed DRONEWATCH_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	switch c.LockBackend {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q", LockLocal, LockRedis)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}

	if _, ok := embeddingProviders[c.EmbeddingProvider]; !ok {
		return fmt.Errorf("EMBEDDING_PROVIDER %q is not supported", c.EmbeddingProvider)
	}
	for name, value := range map[string]string{
		"REASONING_PRIMARY":   c.ReasoningPrimary,
		"REASONING_SECONDARY": c.ReasoningSecondary,
	} {
		if _, ok := reasoningProviders[value]; !ok {
			return fmt.Errorf("%s %q is not supported", name, value)
		}
	}
	if c.ReasoningPrimary != "none" && c.ReasoningPrimary == c.ReasoningSecondary {
		return fmt.Errorf("REASONING_SECONDARY must differ from REASONING_PRIMARY")
	}
	if c.EmbeddingTimeout <= 0 || c.ReasoningTimeout <= 0 {
		return fmt.Errorf("EMBEDDING_TIMEOUT and REASONING_TIMEOUT must be positive")
	}
	// A redis lease must outlast one candidate: embedding, adjudication and
	// the store write.
	if budget := c.EmbeddingTimeout + c.ReasoningTimeout + storeWriteAllowance; c.LockBackend == LockRedis && c.LockTTL <= budget {
		return fmt.Errorf("LOCK_TTL (%s) must exceed EMBEDDING_TIMEOUT + REASONING_TIMEOUT + %s (%s)", c.LockTTL, storeWriteAllowance, budget)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be within 1..65535")
	}
	return nil
}

// UsesProvider reports whether a capability slot names provider.
func (c *Config) UsesProvider(provider string) bool {
	if c == nil {
		return false
	}
	return c.EmbeddingProvider == provider || c.ReasoningPrimary == provider || c.ReasoningSecondary == provider
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
