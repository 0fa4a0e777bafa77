package provider

import (
	"context"
	"errors"
	"time"

	openai_provider "kokoni/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the text-generation collaborator. Implementations are
// treated as unreliable: callers must handle timeouts and unparseable
// output without letting either past their own boundary.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options configures a provider built by NewProvider.
type Options struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(client Client, opts Options) (Provider, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	switch client {
	case OpenAI:
		if opts.APIKey == "" {
			return nil, errors.New("openai api key not set")
		}
		if opts.Model == "" {
			opts.Model = "gpt-4o-mini"
		}
		return openai_provider.NewClient(opts.APIKey, opts.Model, opts.Temperature, opts.MaxTokens, opts.Timeout), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
