package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.ListenAddr())
	assert.Equal(t, 60*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.StaleLockGrace)
	assert.Equal(t, 1000, cfg.Execution.MaxMessagesPerRun)
	assert.Equal(t, 5, cfg.Execution.DefaultBatchSize)
	assert.Equal(t, 120*time.Second, cfg.IMAP.FetchTimeout)
	assert.Equal(t, 30*time.Second, cfg.IMAP.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.IMAP.HealthFreshness)
	assert.Equal(t, LLMProviderDisabled, cfg.LLM.Provider)
	assert.Equal(t, 0.1, cfg.LLM.Temperature)
	assert.Equal(t, 60*time.Second, cfg.LLM.PerMessageTimeout)
	assert.Equal(t, 0.7, cfg.Embedding.MinConfidence)
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Setenv("MAIL_INSIGHTS_SCHEDULER_TICK_INTERVAL", "30s")
	os.Setenv("MAIL_INSIGHTS_EXECUTION_DEFAULT_BATCH_SIZE", "10")
	os.Setenv("MAIL_INSIGHTS_LLM_PROVIDER", "ollama")
	os.Setenv("MAIL_INSIGHTS_LLM_ENDPOINT", "http://localhost:11434")
	defer func() {
		os.Unsetenv("MAIL_INSIGHTS_SCHEDULER_TICK_INTERVAL")
		os.Unsetenv("MAIL_INSIGHTS_EXECUTION_DEFAULT_BATCH_SIZE")
		os.Unsetenv("MAIL_INSIGHTS_LLM_PROVIDER")
		os.Unsetenv("MAIL_INSIGHTS_LLM_ENDPOINT")
	}()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 10, cfg.Execution.DefaultBatchSize)
	assert.Equal(t, LLMProviderOllama, cfg.LLM.Provider)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server port",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database path",
		},
		{
			name:    "openai without key",
			mutate:  func(c *Config) { c.LLM.Provider = LLMProviderOpenAI },
			wantErr: "requires an API key",
		},
		{
			name:    "ollama without endpoint",
			mutate:  func(c *Config) { c.LLM.Provider = LLMProviderOllama },
			wantErr: "requires an endpoint",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.LLM.Provider = "skynet" },
			wantErr: "unknown llm provider",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.LLM.Temperature = 1.5 },
			wantErr: "temperature",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Execution.DefaultBatchSize = 0 },
			wantErr: "batch size",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
