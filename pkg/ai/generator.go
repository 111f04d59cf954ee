package ai

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// TextGenerator generates text from a system prompt and user prompt.
// Every provider (Claude, Gemini, Ollama, OpenAI-compatible) implements it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// DefaultMaxTokens caps the length of a generated report.
const DefaultMaxTokens = 1500

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption customizes a provider client.
type ClientOption func(*clientOptions)

// WithBaseURL points the client at a different endpoint, e.g. a proxy or a
// test server.
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

func resolveOptions(defaultBaseURL string, timeout time.Duration, opts []ClientOption) clientOptions {
	o := clientOptions{baseURL: defaultBaseURL}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.baseURL == "" {
		o.baseURL = defaultBaseURL
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: timeout}
	}
	return o
}
