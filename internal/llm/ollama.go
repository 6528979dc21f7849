package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mail-insights/internal/config"
)

const defaultOllamaModel = "llama3.2"

// ollamaClient talks to a local Ollama instance over its generate API.
type ollamaClient struct {
	endpoint     string
	defaultModel string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

func newOllamaClient(cfg config.LLMConfig, logger *slog.Logger) *ollamaClient {
	model := cfg.DefaultModel
	if model == "" {
		model = defaultOllamaModel
	}
	timeout := cfg.PerMessageTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ollamaClient{
		endpoint:     strings.TrimSuffix(cfg.Endpoint, "/"),
		defaultModel: model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		timeout:      timeout,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.With("component", "ollama_client"),
	}
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *ollamaClient) ExecuteChat(ctx context.Context, req ChatRequest) (string, error) {
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

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  model,
		Prompt: req.UserPrompt,
		System: req.SystemPrompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama request encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var generated ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&generated); err != nil {
		return "", fmt.Errorf("ollama response decode: %w", err)
	}

	c.logger.Debug("Generate finished", "model", model, "duration", time.Since(start))
	return generated.Response, nil
}

func (c *ollamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check: status %d", resp.StatusCode)
	}
	return nil
}

func (c *ollamaClient) IsEnabled() bool {
	return true
}
