// Package llm sends chat completions to an OpenAI-compatible server.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/songzhibin97/genai-bot/logging"
)

// ErrEmptyResponse is returned when the server answers without any choice.
var ErrEmptyResponse = errors.New("llm returned no choices")

const (
	DefaultTemperature float32 = 0.975
	DefaultMaxTokens           = 1000
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
	Logger      logging.Logger
}

// Client completes prompts under a system message.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      logging.Logger
}

func New(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Client{
		api:         openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      opts.Logger,
	}
}

// Complete sends system followed by one user message per prompt and returns
// the first choice. maxTokens <= 0 uses the configured limit.
func (c *Client) Complete(ctx context.Context, system string, maxTokens int, prompts ...string) (string, error) {
	if len(prompts) == 0 {
		return "", errors.New("llm: no prompt")
	}
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(prompts)+1)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, p := range prompts {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p})
	}

	c.logger.Debug("llm request", "model", c.model, "messages", len(messages), "max_tokens", maxTokens)
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	c.logger.Debug("llm request completed", "model", c.model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
