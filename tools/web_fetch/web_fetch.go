package web_fetch

import (
	"context"
	"time"

	"kokoni/tools/web_fetch/chromedp"
	"kokoni/tools/web_fetch/models"
)

const (
	DefaultTimeoutMS = 15000
	MaxCharsDefault  = 20000
)

// WebFetcher fetches a page and extracts its readable text, used when a
// source is added by URL without content.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

type FetcherType string

const (
	ChromedpFetcherType FetcherType = "chromedp"
)

// NewWebFetcher builds a fetcher. timeoutMS is in milliseconds, matching
// the fetch config section; zero values fall back to the defaults.
func NewWebFetcher(fetcherType FetcherType, timeoutMS, maxChars int) (WebFetcher, error) {
	if timeoutMS <= 0 {
		timeoutMS = DefaultTimeoutMS
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: time.Duration(timeoutMS) * time.Millisecond, MaxChars: maxChars}, nil
	default:
		return nil, &Error{"unsupported fetcher type"}
	}
}
