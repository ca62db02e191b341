package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OllamaConfig configures the local-model backend.
type OllamaConfig struct {
	Endpoint     string // base URL, e.g. http://localhost:11434
	Model        string
	Instructions string
}

// OllamaClassifier classifies messages through Ollama's native chat
// API. Responses are requested non-streaming and in JSON format.
type OllamaClassifier struct {
	endpoint     string
	model        string
	instructions string
	client       *http.Client
	logger       *zap.Logger
}

// NewOllama builds the backend. The HTTP client carries no timeout of
// its own; every call runs under the caller's context deadline.
func NewOllama(cfg OllamaConfig, logger *zap.Logger) *OllamaClassifier {
	return &OllamaClassifier{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		model:        cfg.Model,
		instructions: cfg.Instructions,
		client:       &http.Client{},
		logger:       logger,
	}
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
	Format   string      `json:"format,omitempty"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Error   string    `json:"error,omitempty"`
}

// Classify implements Classifier.
func (c *OllamaClassifier) Classify(ctx context.Context, message, username, criteria string) (Classification, error) {
	raw, err := c.chat(ctx, classifySystemPrompt, classifyUserPrompt(message, username, criteria, c.instructions))
	if err != nil {
		return Classification{}, fmt.Errorf("classify: ollama classify: %w", err)
	}
	return parseClassification(raw)
}

// ScoreSentiment implements Classifier.
func (c *OllamaClassifier) ScoreSentiment(ctx context.Context, message string) (Sentiment, error) {
	raw, err := c.chat(ctx, sentimentSystemPrompt, sentimentUserPrompt(message))
	if err != nil {
		return Sentiment{}, fmt.Errorf("classify: ollama sentiment: %w", err)
	}
	return parseSentiment(raw)
}

func (c *OllamaClassifier) chat(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	body, err := json.Marshal(ollamaChatReq{
		Model: c.model,
		Messages: []ollamaMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed ollamaChatResp
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}
	c.logger.Debug("ollama completion",
		zap.String("model", c.model),
		zap.Duration("took", time.Since(start)))
	return parsed.Message.Content, nil
}
