package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LLM provider names recognized by the pipeline.
const (
	LLMProviderOpenAI   = "openai"
	LLMProviderOllama   = "ollama"
	LLMProviderDisabled = "disabled"
)

// Config is the full typed configuration for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Execution ExecutionConfig `mapstructure:"execution"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig configures the sqlite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the minute-tick dispatcher.
type SchedulerConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	StaleLockGrace      time.Duration `mapstructure:"stale_lock_grace"`
	StaleExecutionGrace time.Duration `mapstructure:"stale_execution_grace"`
}

// ExecutionConfig configures per-execution behavior.
type ExecutionConfig struct {
	MaxMessagesPerRun int `mapstructure:"max_messages_per_run"`
	DefaultBatchSize  int `mapstructure:"default_batch_size"`
	RetentionDays     int `mapstructure:"retention_days"` // 0 disables the sweep
}

// IMAPConfig configures the fetcher and connection pool.
type IMAPConfig struct {
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	HealthFreshness time.Duration `mapstructure:"health_freshness"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
}

// LLMConfig configures the analysis model client.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	DefaultModel      string        `mapstructure:"default_model"`
	APIKey            string        `mapstructure:"api_key"`
	Endpoint          string        `mapstructure:"endpoint"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	PerMessageTimeout time.Duration `mapstructure:"per_message_timeout"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
}

// EmbeddingConfig configures the optional subject classifier.
type EmbeddingConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// Load reads configuration from an optional file plus MAIL_INSIGHTS_*
// environment variables and validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAIL_INSIGHTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.path", "./mail-insights.db")

	v.SetDefault("scheduler.tick_interval", "60s")
	v.SetDefault("scheduler.stale_lock_grace", "10m")
	v.SetDefault("scheduler.stale_execution_grace", "30m")

	v.SetDefault("execution.max_messages_per_run", 1000)
	v.SetDefault("execution.default_batch_size", 5)
	v.SetDefault("execution.retention_days", 0)

	v.SetDefault("imap.fetch_timeout", "120s")
	v.SetDefault("imap.connect_timeout", "30s")
	v.SetDefault("imap.health_freshness", "60s")
	v.SetDefault("imap.acquire_timeout", "60s")

	v.SetDefault("llm.provider", LLMProviderDisabled)
	v.SetDefault("llm.default_model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.per_message_timeout", "60s")
	v.SetDefault("llm.max_concurrent", 2)

	v.SetDefault("embedding.min_confidence", 0.7)
}

// Validate enforces option constraints after loading.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("scheduler tick interval must be at least 1s, got %v", c.Scheduler.TickInterval)
	}
	if c.Execution.MaxMessagesPerRun < 1 {
		return fmt.Errorf("max messages per run must be positive, got %d", c.Execution.MaxMessagesPerRun)
	}
	if c.Execution.DefaultBatchSize < 1 {
		return fmt.Errorf("default batch size must be positive, got %d", c.Execution.DefaultBatchSize)
	}

	switch c.LLM.Provider {
	case LLMProviderOpenAI:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm provider %q requires an API key", c.LLM.Provider)
		}
	case LLMProviderOllama:
		if c.LLM.Endpoint == "" {
			return fmt.Errorf("llm provider %q requires an endpoint", c.LLM.Provider)
		}
	case LLMProviderDisabled:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm temperature must be in [0, 1], got %f", c.LLM.Temperature)
	}
	if c.LLM.MaxConcurrent < 1 {
		return fmt.Errorf("llm max concurrent must be positive, got %d", c.LLM.MaxConcurrent)
	}
	if c.Embedding.MinConfidence < 0 || c.Embedding.MinConfidence > 1 {
		return fmt.Errorf("embedding min confidence must be in [0, 1], got %f", c.Embedding.MinConfidence)
	}
	return nil
}

// ListenAddr formats the HTTP bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
