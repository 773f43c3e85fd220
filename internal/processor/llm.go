package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/emitt/replyd/internal/config"
)

var (
	// ErrMissingAPIKey is returned when no completion credentials are configured.
	ErrMissingAPIKey = errors.New("llm api key not configured")

	// ErrEmptyResponse is returned when the endpoint answers without choices.
	ErrEmptyResponse = errors.New("llm returned no choices")
)

// LLMClient wraps an OpenAI-compatible chat completions endpoint
type LLMClient struct {
	client  *openai.Client
	model   string
	hasKey  bool
	timeout time.Duration
	latency prometheus.Observer
	logger  zerolog.Logger
}

// NewLLMClient creates a new LLM client
func NewLLMClient(cfg *config.LLMConfig, logger zerolog.Logger) *LLMClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
	}

	return &LLMClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		hasKey:  cfg.APIKey != "",
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "llm").Logger(),
	}
}

// Complete sends prompt as the only user message and returns the first
// choice's content. The call is bounded by the configured timeout.
func (c *LLMClient) Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	if !c.hasKey {
		c.logger.Warn().Msg("LLM API key not configured")
		return "", ErrMissingAPIKey
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("max_tokens", maxTokens).
		Float32("temperature", temperature).
		Int("prompt_length", len(prompt)).
		Msg("Sending chat completion request")

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if c.latency != nil {
		c.latency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("Chat completion failed")
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	c.logger.Debug().
		Dur("duration", time.Since(start)).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Received chat completion")

	return resp.Choices[0].Message.Content, nil
}

// ObserveLatency records the duration of every completion call in o.
func (c *LLMClient) ObserveLatency(o prometheus.Observer) {
	c.latency = o
}

// Model returns the configured model name.
func (c *LLMClient) Model() string {
	return c.model
}
