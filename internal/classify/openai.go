package classify

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures the OpenAI-compatible backend. BaseURL is
// optional; setting it points the client at any endpoint speaking the
// chat-completion API.
type OpenAIConfig struct {
	APIKey       string
	Model        string
	BaseURL      string
	Instructions string
}

// OpenAIClassifier classifies messages through the OpenAI
// chat-completion API.
type OpenAIClassifier struct {
	client       *openai.Client
	model        string
	instructions string
	logger       *zap.Logger
}

// NewOpenAI builds the backend. Temperature is pinned low and JSON
// response format requested, so replies stay machine-parseable.
func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClassifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClassifier{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		instructions: cfg.Instructions,
		logger:       logger,
	}
}

// Classify implements Classifier.
func (c *OpenAIClassifier) Classify(ctx context.Context, message, username, criteria string) (Classification, error) {
	raw, err := c.complete(ctx, classifySystemPrompt, classifyUserPrompt(message, username, criteria, c.instructions), 300)
	if err != nil {
		return Classification{}, fmt.Errorf("classify: openai classify: %w", err)
	}
	return parseClassification(raw)
}

// ScoreSentiment implements Classifier.
func (c *OpenAIClassifier) ScoreSentiment(ctx context.Context, message string) (Sentiment, error) {
	raw, err := c.complete(ctx, sentimentSystemPrompt, sentimentUserPrompt(message), 100)
	if err != nil {
		return Sentiment{}, fmt.Errorf("classify: openai sentiment: %w", err)
	}
	return parseSentiment(raw)
}

func (c *OpenAIClassifier) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	c.logger.Debug("openai completion",
		zap.String("model", c.model),
		zap.Duration("took", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}
