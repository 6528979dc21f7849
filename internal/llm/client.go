package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mail-insights/internal/config"
)

// ErrDisabled is returned when no LLM provider is configured.
var ErrDisabled = errors.New("llm provider disabled")

// ChatRequest is one analysis call. Model falls back to the configured
// default when empty.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Client executes chat completions against a configured provider.
type Client interface {
	// ExecuteChat returns the raw completion text. Callers parse it; the
	// client makes no guarantees about JSON shape.
	ExecuteChat(ctx context.Context, req ChatRequest) (string, error)

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error

	// IsEnabled reports whether the client performs real completions.
	IsEnabled() bool
}

// New builds the provider named in the configuration.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	var client Client
	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		client = newOpenAIClient(cfg, logger)
	case config.LLMProviderOllama:
		client = newOllamaClient(cfg, logger)
	case config.LLMProviderDisabled:
		return NewNoOpClient(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return newLimitedClient(client, maxConcurrent), nil
}

// limitedClient caps in-flight completions process-wide so parallel
// executions cannot stampede the provider.
type limitedClient struct {
	inner Client
	slots chan struct{}
}

func newLimitedClient(inner Client, maxConcurrent int) *limitedClient {
	return &limitedClient{
		inner: inner,
		slots: make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedClient) ExecuteChat(ctx context.Context, req ChatRequest) (string, error) {
	select {
	case l.slots <- struct{}{}:
		defer func() { <-l.slots }()
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for llm slot: %w", ctx.Err())
	}
	return l.inner.ExecuteChat(ctx, req)
}

func (l *limitedClient) HealthCheck(ctx context.Context) error {
	return l.inner.HealthCheck(ctx)
}

func (l *limitedClient) IsEnabled() bool {
	return l.inner.IsEnabled()
}

// NoOpClient satisfies Client without calling any provider.
type NoOpClient struct{}

// NewNoOpClient creates a client that refuses completions.
func NewNoOpClient() *NoOpClient {
	return &NoOpClient{}
}

// ExecuteChat always fails with ErrDisabled.
func (n *NoOpClient) ExecuteChat(ctx context.Context, req ChatRequest) (string, error) {
	return "", ErrDisabled
}

// HealthCheck always succeeds.
func (n *NoOpClient) HealthCheck(ctx context.Context) error {
	return nil
}

// IsEnabled returns false.
func (n *NoOpClient) IsEnabled() bool {
	return false
}

// truncate caps prompt content so oversized bodies do not blow the
// provider's context window.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// withTimeout applies the per-request deadline when the parent has none
// shorter.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
