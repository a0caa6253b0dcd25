package brain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ent0n29/voxbridge/internal/conversation"
	"github.com/ent0n29/voxbridge/internal/observability"
)

// maxRetries is handed to the openai-go client, which retries 408, 429, 5xx
// and connection failures.
const maxRetries = 2

// Config controls backend construction.
type Config struct {
	Provider         string
	FallbackProvider string
	APIKey           string
	BaseURL          string
	Model            string
	HTTPClient       *http.Client
	Metrics          *observability.Metrics
}

// NewBackend builds the configured backend, wrapped in a FallbackBackend when a
// fallback provider is set.
func NewBackend(cfg Config) (conversation.Backend, error) {
	primary, err := newProvider(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}
	fb := strings.ToLower(strings.TrimSpace(cfg.FallbackProvider))
	if fb == "" || fb == "none" {
		return primary, nil
	}
	secondary, err := newProvider(fb, cfg)
	if err != nil {
		return nil, fmt.Errorf("fallback backend: %w", err)
	}
	return NewFallbackBackend(primary, secondary), nil
}

func newProvider(name string, cfg Config) (conversation.Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(name))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewMockBackend(), nil
		}
		return NewChatBackend(cfg), nil
	case "chat":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the chat backend")
		}
		return NewChatBackend(cfg), nil
	case "responses":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the responses backend")
		}
		return NewResponsesBackend(cfg), nil
	case "mock":
		return NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
}
