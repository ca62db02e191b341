package classify

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Config selects and configures a backend. An empty Provider means no
// classifier is configured; New returns nil in that case and callers
// fall back to allow-only triage.
type Config struct {
	Provider     string
	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIBase   string
	OllamaHost   string
	OllamaModel  string
	Instructions string
}

// New builds the configured backend. The pipeline never branches on
// which backend it got; selection happens here and nowhere else.
func New(cfg Config, logger *zap.Logger) (Classifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("classify: openai provider requires an api key")
		}
		return NewOpenAI(OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBase,
			Instructions: cfg.Instructions,
		}, logger), nil
	case ProviderOllama:
		if cfg.OllamaHost == "" {
			return nil, fmt.Errorf("classify: ollama provider requires an endpoint")
		}
		return NewOllama(OllamaConfig{
			Endpoint:     cfg.OllamaHost,
			Model:        cfg.OllamaModel,
			Instructions: cfg.Instructions,
		}, logger), nil
	default:
		return nil, fmt.Errorf("classify: unknown provider %q", cfg.Provider)
	}
}
