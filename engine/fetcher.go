package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/use-agent/otakuscrape/models"
)

// Fetcher walks an ordered chain of strategies, cheapest first. Blocked
// answers escalate to the next strategy at once; network errors and
// timeouts are retried in place per the RetryPolicy and then escalate;
// terminal failures (not found, upstream errors, bad URLs, unknown hosts)
// stop the chain.
type Fetcher struct {
	strategies     []Strategy
	retry          RetryPolicy
	attemptTimeout time.Duration
}

// maxTriesPerStrategy caps RetryPolicy.MaxAttempts.
const maxTriesPerStrategy = 3

// NewFetcher creates a Fetcher over strategies in escalation order.
// attemptTimeout bounds each single attempt; the caller's context bounds
// the whole chain. retry.MaxAttempts is clamped to 1..3.
func NewFetcher(strategies []Strategy, retry RetryPolicy, attemptTimeout time.Duration) *Fetcher {
	retry.MaxAttempts = min(max(retry.MaxAttempts, 1), maxTriesPerStrategy)
	return &Fetcher{
		strategies:     strategies,
		retry:          retry,
		attemptTimeout: attemptTimeout,
	}
}

// Strategies returns the names of the configured chain in order.
func (f *Fetcher) Strategies() []string {
	names := make([]string, len(f.strategies))
	for i, s := range f.strategies {
		names[i] = s.Name()
	}
	return names
}

// Fetch obtains HTML for rawURL. On failure the error is a *Failure that
// carries every attempt made.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, p Policy) (*FetchResult, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, &Failure{
			Kind: models.KindInvalid,
			Last: &FetchError{Kind: models.KindInvalid, Strategy: "-", Err: err},
		}
	}

	chain := f.chain(p.Strategies)
	if len(chain) == 0 {
		return nil, &Failure{
			Kind: models.KindInvalid,
			Last: fmt.Errorf("fetch: no strategy matches %v", p.Strategies),
		}
	}

	req := &FetchRequest{
		URL:           rawURL,
		Headers:       p.Headers,
		ReadySelector: p.ReadySelector,
	}

	var attempts []models.FetchAttempt
	var lastErr *FetchError

	for i, s := range chain {
		for try := 1; ; try++ {
			if err := ctx.Err(); err != nil {
				return nil, deadlineFailure(err, lastErr, attempts)
			}

			start := time.Now()
			resp, ferr := f.attempt(ctx, s, req, p)
			attempt := models.FetchAttempt{
				Strategy:   s.Name(),
				Kind:       string(s.Kind()),
				Try:        try,
				DurationMs: time.Since(start).Milliseconds(),
			}
			if resp != nil {
				attempt.StatusCode = resp.StatusCode
			}

			if ferr == nil {
				attempts = append(attempts, attempt)
				slog.Debug("fetch succeeded", "url", rawURL, "strategy", s.Name(), "try", try)
				return &FetchResult{
					HTML:       resp.Body,
					Strategy:   s.Name(),
					StatusCode: resp.StatusCode,
					FinalURL:   resp.FinalURL,
					Attempts:   attempts,
				}, nil
			}

			attempt.Outcome = ferr.Kind
			attempt.StatusCode = ferr.StatusCode
			attempt.Error = ferr.Error()
			attempts = append(attempts, attempt)
			lastErr = ferr

			if ferr.Kind.Terminal() {
				slog.Info("fetch stopped on terminal failure",
					"url", rawURL, "strategy", s.Name(), "kind", ferr.Kind, "error", ferr.Err)
				return nil, &Failure{Kind: ferr.Kind, Last: ferr, Attempts: attempts}
			}
			if err := ctx.Err(); err != nil {
				return nil, deadlineFailure(err, lastErr, attempts)
			}

			if f.retry.retryable(ferr.Kind) && try < f.retry.MaxAttempts {
				delay := f.retry.Backoff(try)
				slog.Debug("fetch retrying",
					"url", rawURL, "strategy", s.Name(), "try", try, "kind", ferr.Kind, "backoff", delay)
				if err := f.retry.sleep(ctx, delay); err != nil {
					return nil, deadlineFailure(err, lastErr, attempts)
				}
				continue
			}
			break
		}

		if i+1 < len(chain) {
			slog.Info("fetch escalating",
				"url", rawURL, "from", s.Name(), "to", chain[i+1].Name(), "kind", lastErr.Kind)
		}
	}

	return nil, &Failure{Kind: models.KindExhausted, Last: lastErr, Attempts: attempts}
}

// attempt runs one strategy once, turning panics and bad answers into
// classified errors.
func (f *Fetcher) attempt(ctx context.Context, s Strategy, req *FetchRequest, p Policy) (resp *Response, ferr *FetchError) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fetch strategy panicked", "strategy", s.Name(), "panic", r)
			resp = nil
			ferr = &FetchError{Kind: models.KindOther, Strategy: s.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if f.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.attemptTimeout)
		defer cancel()
	}

	resp, err := s.Fetch(ctx, req)
	if err != nil {
		return nil, &FetchError{Kind: classify(err), Strategy: s.Name(), Err: err}
	}
	if resp == nil {
		return nil, &FetchError{Kind: models.KindOther, Strategy: s.Name(), Err: errors.New("no response")}
	}

	if kind, reason := inspect(resp, p); kind != "" {
		return resp, &FetchError{Kind: kind, Strategy: s.Name(), StatusCode: resp.StatusCode, Err: errors.New(reason)}
	}
	return resp, nil
}

func (f *Fetcher) chain(only []string) []Strategy {
	if len(only) == 0 {
		return f.strategies
	}
	var out []Strategy
	for _, s := range f.strategies {
		for _, n := range only {
			if n == s.Name() || n == string(s.Kind()) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func deadlineFailure(ctxErr error, last *FetchError, attempts []models.FetchAttempt) *Failure {
	kind := models.KindTimeout
	if errors.Is(ctxErr, context.Canceled) {
		kind = models.KindOther
	}
	var lastErr error = ctxErr
	if last != nil {
		lastErr = fmt.Errorf("%w (last attempt: %v)", ctxErr, last)
	}
	return &Failure{Kind: kind, Last: lastErr, Attempts: attempts}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return errors.New("missing host")
	}
	return nil
}
