// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. DOCGEN_DB_URL.
const EnvPrefix = "DOCGEN_"

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`       // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"`     // json|console
	Sampling bool   `yaml:"sampling" env:"LOG_SAMPLING"` // enable sampling in prod
}

type HTTPConfig struct {
	Port        int           `yaml:"port" env:"HTTP_PORT"`
	SyncTimeout time.Duration `yaml:"sync_timeout" env:"HTTP_SYNC_TIMEOUT"`
	// RequestTimeout bounds non-streaming handlers.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT"`
	JWTSecret      string        `yaml:"jwt_secret" env:"HTTP_JWT_SECRET"`
}

type DatabaseConfig struct {
	URL string `yaml:"url" env:"DB_URL"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL"`
	// RateLimit is the number of generation requests an owner may make per RateWindow. 0 disables.
	RateLimit  int           `yaml:"rate_limit" env:"REDIS_RATE_LIMIT"`
	RateWindow time.Duration `yaml:"rate_window" env:"REDIS_RATE_WINDOW"`
}

type AIConfig struct {
	// Provider selects the upstream wiring: "live" or "noop".
	Provider         string `yaml:"provider" env:"AI_PROVIDER"`
	OpenAIKey        string `yaml:"openai_key" env:"AI_OPENAI_KEY"`
	OpenAIBaseURL    string `yaml:"openai_base_url" env:"AI_OPENAI_BASE_URL"`
	AnthropicKey     string `yaml:"anthropic_key" env:"AI_ANTHROPIC_KEY"`
	AnthropicBaseURL string `yaml:"anthropic_base_url" env:"AI_ANTHROPIC_BASE_URL"`
	GeminiKey        string `yaml:"gemini_key" env:"AI_GEMINI_KEY"`
	GeminiURL        string `yaml:"gemini_url" env:"AI_GEMINI_URL"`
	DefaultModel     string `yaml:"default_model" env:"AI_DEFAULT_MODEL"`
	// Models maps an action name to a model id, e.g. generate_sow: gpt-4o.
	Models map[string]string `yaml:"models" env:"AI_MODELS"`
	// ModelProviders maps a model id or prefix to a provider name.
	ModelProviders  map[string]string `yaml:"model_providers" env:"AI_MODEL_PROVIDERS"`
	ConcurrentLimit int               `yaml:"concurrent_limit" env:"AI_CONCURRENT_LIMIT"` // max concurrent AI calls
	MaxTokens       int               `yaml:"max_tokens" env:"AI_MAX_TOKENS"`
	PromptsFile     string            `yaml:"prompts_file" env:"AI_PROMPTS_FILE"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" env:"RETRY_MAX_RETRIES"`
	BaseDelay  time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY"`
}

type JobsConfig struct {
	Workers      int           `yaml:"workers" env:"JOBS_WORKERS"`
	QueueSize    int           `yaml:"queue_size" env:"JOBS_QUEUE_SIZE"`
	PollInterval time.Duration `yaml:"poll_interval" env:"JOBS_POLL_INTERVAL"`
	// StaleAfter is how long a job may sit in processing before the reaper fails it.
	StaleAfter   time.Duration `yaml:"stale_after" env:"JOBS_STALE_AFTER"`
	ReapInterval time.Duration `yaml:"reap_interval" env:"JOBS_REAP_INTERVAL"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"JOBS_WRITE_TIMEOUT"`
	// ExecTimeout bounds one background or stream execution; it must stay below StaleAfter.
	ExecTimeout   time.Duration `yaml:"exec_timeout" env:"JOBS_EXEC_TIMEOUT"`
	DisablePoller bool          `yaml:"disable_poller" env:"JOBS_DISABLE_POLLER"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key" env:"SECURITY_ENCRYPTION_KEY"`
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token" env:"NOTIFY_TELEGRAM_TOKEN"`
	TelegramChatID int64  `yaml:"telegram_chat_id" env:"NOTIFY_TELEGRAM_CHAT_ID"`
	Language       string `yaml:"language" env:"NOTIFY_LANGUAGE"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Retry    RetryConfig    `yaml:"retry"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Security SecurityConfig `yaml:"security"`
	Notify   NotifyConfig   `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads -config and -dev from the command line and delegates to Load.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	// .env is optional; it only feeds the environment overrides below
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}
	return Load(configPath, dev)
}

// Load parses the yaml file at path (when it exists), applies DOCGEN_*
// environment overrides, then fills defaults and validates.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path != "":
		// env-only deployments
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.SyncTimeout <= 0 {
		c.HTTP.SyncTimeout = 2 * time.Minute
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 15 * time.Second
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Redis.RateWindow <= 0 {
		c.Redis.RateWindow = time.Minute
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "live"
	}
	if c.AI.DefaultModel == "" {
		c.AI.DefaultModel = "gpt-4o-mini"
	}
	if c.AI.OpenAIBaseURL == "" {
		c.AI.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if c.AI.AnthropicBaseURL == "" {
		c.AI.AnthropicBaseURL = "https://api.anthropic.com"
	}
	if c.AI.ConcurrentLimit <= 0 {
		c.AI.ConcurrentLimit = 16
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 4096
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 5 * time.Second
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 4
	}
	if c.Jobs.QueueSize <= 0 {
		c.Jobs.QueueSize = 64
	}
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = 2 * time.Second
	}
	if c.Jobs.StaleAfter <= 0 {
		c.Jobs.StaleAfter = 30 * time.Minute
	}
	if c.Jobs.ReapInterval <= 0 {
		c.Jobs.ReapInterval = time.Minute
	}
	if c.Notify.Language == "" {
		c.Notify.Language = "en"
	}
	if c.Jobs.ExecTimeout <= 0 {
		c.Jobs.ExecTimeout = 10 * time.Minute
	}
	if c.Jobs.WriteTimeout <= 0 {
		c.Jobs.WriteTimeout = 10 * time.Second
	}
}

// Validate performs the minimal checks the process cannot start without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.HTTP.JWTSecret == "" {
		return errors.New("http.jwt_secret is required")
	}
	switch c.AI.Provider {
	case "live", "noop":
	default:
		return fmt.Errorf("ai.provider must be live or noop, got %q", c.AI.Provider)
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must not be negative")
	}
	if c.Jobs.ExecTimeout >= c.Jobs.StaleAfter {
		return fmt.Errorf("jobs.exec_timeout (%s) must be below jobs.stale_after (%s)", c.Jobs.ExecTimeout, c.Jobs.StaleAfter)
	}
	return nil
}

// ModelFor returns the configured model for an action, falling back to the default model.
func (a AIConfig) ModelFor(action string) string {
	if m := strings.TrimSpace(a.Models[action]); m != "" {
		return m
	}
	return a.DefaultModel
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
