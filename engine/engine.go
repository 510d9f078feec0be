package engine

import (
	"context"

	"github.com/use-agent/otakuscrape/models"
)

// StrategyKind groups strategies by how they reach the target.
type StrategyKind string

const (
	KindDirect   StrategyKind = "direct"
	KindProxy    StrategyKind = "proxy"
	KindHeadless StrategyKind = "headless"
)

// Strategy is the interface every fetch strategy implements.
//
// A strategy returns a Response for anything the target answered,
// including error statuses; judging the answer is the Fetcher's job.
// It returns an error only when no answer was obtained at all.
type Strategy interface {
	// Name identifies the strategy in attempts and logs,
	// e.g. "direct", "proxy:worker.example.dev", "headless".
	Name() string

	Kind() StrategyKind

	Fetch(ctx context.Context, req *FetchRequest) (*Response, error)
}

// FetchRequest contains everything a strategy needs to fetch a page.
type FetchRequest struct {
	URL     string
	Headers map[string]string

	// ReadySelector is awaited by the headless strategy before reading HTML.
	ReadySelector string
}

// Response is the raw answer obtained by a strategy.
type Response struct {
	Body        string
	StatusCode  int // 0 when the strategy cannot tell
	FinalURL    string
	ContentType string
}

// FetchResult is the output of a successful Fetcher.Fetch.
type FetchResult struct {
	HTML       string
	Strategy   string
	StatusCode int
	FinalURL   string
	Attempts   []models.FetchAttempt
}
