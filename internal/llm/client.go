// Package llm wraps the hosted language model used for contradiction
// analysis.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relayforge/corpus-engine/internal/observability"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
)

// ClientConfig configures the Anthropic client.
type ClientConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	Retry   RetryConfig
}

// Completion is one model response with its token usage.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client sends single-prompt completions to the Anthropic Messages API.
type Client struct {
	logger    *observability.Logger
	api       anthropic.Client
	model     string
	maxTokens int64
	retry     RetryConfig
}

// NewClient creates the completion client.
func NewClient(logger *observability.Logger, cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	// The SDK's own retry is disabled so backoff lives in one place.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		logger:    logger.WithComponent("llm"),
		api:       anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry.withDefaults(),
	}, nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// Complete sends one user prompt and returns the concatenated text blocks
// of the response. Transient API failures are retried with exponential
// backoff.
func (c *Client) Complete(ctx context.Context, prompt string) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	message, err := c.completeWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Completion{
		Text:         text.String(),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}
