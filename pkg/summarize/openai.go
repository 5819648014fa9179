package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You write short, factual summaries of open-source AI models and repositories. " +
	"Use at most three sentences. Do not invent capabilities that are not in the input."

// ErrEmptySummary is returned when the service answers with no text.
var ErrEmptySummary = errors.New("empty summary")

// Client produces a summary for a prompt.
type Client interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient calls any OpenAI-compatible chat completion endpoint,
// including DeepSeek.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAIClient creates a client. An empty baseURL uses the OpenAI API.
func NewOpenAIClient(apiKey, baseURL, model string, maxTokens int, logger *slog.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = "deepseek-chat"
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Summarize implements Client.
func (o *OpenAIClient) Summarize(ctx context.Context, prompt string) (string, error) {
	o.logger.Debug("requesting summary", "model", o.model)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptySummary
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptySummary
	}
	return text, nil
}
