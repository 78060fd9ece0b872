// ABOUTME: OpenAI Chat Completions client with base URL support for compatible providers.
// ABOUTME: Per-request API keys build a fresh SDK client; a default key covers requests without one.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Client over the Chat Completions endpoint,
// which OpenAI-compatible providers (OpenRouter, Cerebras, gateways)
// also serve.
type OpenAIClient struct {
	defaultKey string
	baseURL    string
	model      string
	retry      RetryConfig
}

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *OpenAIClient) { c.baseURL = url }
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) Option {
	return func(c *OpenAIClient) { c.model = model }
}

// WithRetry overrides the retry configuration.
func WithRetry(cfg RetryConfig) Option {
	return func(c *OpenAIClient) { c.retry = cfg }
}

// NewOpenAIClient creates a client with a default API key used when a
// request does not carry its own.
func NewOpenAIClient(defaultKey string, opts ...Option) *OpenAIClient {
	c := &OpenAIClient{
		defaultKey: defaultKey,
		model:      "gpt-4o-mini",
		retry:      DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OpenAIClient) sdk(apiKey string) openai.Client {
	if apiKey == "" {
		apiKey = c.defaultKey
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	return openai.NewClient(opts...)
}

// Complete performs one chat completion with retry on transient errors.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionNewParams{
		Model:               model,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	params.Messages = messages

	client := c.sdk(req.APIKey)
	var resp *openai.ChatCompletion
	err := withRetry(ctx, c.retry, func() error {
		var callErr error
		resp, callErr = client.Chat.Completions.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// AvailableModels lists the provider's model ids.
func (c *OpenAIClient) AvailableModels(ctx context.Context, apiKey string) ([]string, error) {
	client := c.sdk(apiKey)
	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	var out []string
	for _, m := range page.Data {
		out = append(out, m.ID)
	}
	return out, nil
}
