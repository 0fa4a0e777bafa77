package web_search

import (
	"context"

	"kokoni/tools/web_search/brave"
	"kokoni/tools/web_search/models"
	"kokoni/tools/web_search/serper"
)

// WebSearcher is the advisory web-search collaborator. Failures are
// surfaced to callers, which treat them as "no supporting text" rather
// than aborting.
type WebSearcher interface {
	Search(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = &Error{"unsupported provider"}

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
