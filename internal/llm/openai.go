package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"mail-insights/internal/config"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openAIClient talks to the OpenAI chat completion API, or any
// API-compatible endpoint when config.Endpoint is set.
type openAIClient struct {
	client       *openai.Client
	defaultModel string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	logger       *slog.Logger
}

func newOpenAIClient(cfg config.LLMConfig, logger *slog.Logger) *openAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}

	model := cfg.DefaultModel
	if model == "" {
		model = defaultOpenAIModel
	}

	return &openAIClient{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		timeout:      cfg.PerMessageTimeout,
		logger:       logger.With("component", "openai_client"),
	}
}

func (c *openAIClient) ExecuteChat(ctx context.Context, req ChatRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	temperature := c.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: empty response")
	}

	c.logger.Debug("Chat completion finished",
		"model", model,
		"duration", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai health check: %w", err)
	}
	return nil
}

func (c *openAIClient) IsEnabled() bool {
	return true
}
