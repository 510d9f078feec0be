// Package pipeline composes fetching, extraction and caching into a single
// GetResource operation with a uniform result shape.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/use-agent/otakuscrape/cache"
	"github.com/use-agent/otakuscrape/catalog"
	"github.com/use-agent/otakuscrape/engine"
	"github.com/use-agent/otakuscrape/extractor"
	"github.com/use-agent/otakuscrape/models"
)

// Fetcher obtains HTML for a URL. *engine.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, p engine.Policy) (*engine.FetchResult, error)
}

// Schemas looks up extraction schemas. *catalog.Registry implements it.
type Schemas interface {
	Schema(id string) (*catalog.Entry, bool)
}

// Notifier is told about degraded extractions.
type Notifier interface {
	Degraded(ctx context.Context, alert *Alert)
}

// Alert describes a degraded extraction.
type Alert struct {
	Schema    string   `json:"schema"`
	Site      string   `json:"site"`
	URL       string   `json:"url"`
	Missing   []string `json:"missing"`
	Strategy  string   `json:"strategy"`
	Drift     *int     `json:"drift,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Result is the outcome of GetResource. OK is false only when no usable
// HTML was obtained or the request itself was bad; a degraded record is
// still OK.
type Result struct {
	OK        bool
	Data      *extractor.Record
	Degraded  bool
	Missing   []string
	Schema    string
	SourceURL string
	Strategy  string
	Cached    bool
	Drift     *int

	// Attempts is diagnostic only and never cached.
	Attempts []models.FetchAttempt

	ErrorKind models.ErrorKind
	Message   string

	FetchTime   time.Duration
	ExtractTime time.Duration
	TotalTime   time.Duration
}

// cached is the part of a Result that goes into the cache.
type cached struct {
	Data      *extractor.Record `json:"data"`
	Degraded  bool              `json:"degraded,omitempty"`
	Missing   []string          `json:"missing,omitempty"`
	SourceURL string            `json:"source_url"`
	Strategy  string            `json:"strategy"`
	Drift     *int              `json:"drift,omitempty"`
}

// Options tune the pipeline.
type Options struct {
	// DefaultTTL applies to schemas without a ttl.
	DefaultTTL time.Duration

	// MinBodyLength applies to schemas without min_body_length.
	MinBodyLength int
}

// Pipeline runs ResourceRequests. It is safe for concurrent use; the
// cache is the only state shared between calls.
type Pipeline struct {
	fetcher   Fetcher
	schemas   Schemas
	store     cache.Store
	extractor *extractor.Extractor
	notifier  Notifier
	opts      Options
	drift     driftTracker
}

// New creates a Pipeline. notifier may be nil.
func New(fetcher Fetcher, schemas Schemas, store cache.Store, notifier Notifier, opts Options) *Pipeline {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 10 * time.Minute
	}
	return &Pipeline{
		fetcher:   fetcher,
		schemas:   schemas,
		store:     store,
		extractor: extractor.New(),
		notifier:  notifier,
		opts:      opts,
	}
}

// Store returns the result cache.
func (p *Pipeline) Store() cache.Store { return p.store }

// GetResource fetches, extracts and caches one resource. It never panics;
// every failure comes back as a Result with OK false.
func (p *Pipeline) GetResource(ctx context.Context, req models.ResourceRequest) (res *Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline panic recovered",
				"url", req.URL, "schema", req.Schema, "panic", r, "stack", string(debug.Stack()))
			res = &Result{
				Schema:    req.Schema,
				SourceURL: req.URL,
				ErrorKind: models.KindInternal,
				Message:   fmt.Sprintf("internal error: %v", r),
			}
		}
		res.TotalTime = time.Since(start)
	}()

	// ── 1. Resolve schema ────────────────────────────────────────────
	entry, ok := p.schemas.Schema(req.Schema)
	if !ok {
		return failure(req, models.KindInvalid, fmt.Sprintf("unknown schema %q", req.Schema), nil)
	}
	schema := entry.Schema

	page := req.Page
	if page < 1 {
		page = 1
	}
	key := cache.Key(schema.ID, req.URL, page)

	// ── 2. Cache lookup ──────────────────────────────────────────────
	if e, hit := p.store.Get(ctx, key); hit {
		var c cached
		err := json.Unmarshal(e.Value, &c)
		if err == nil {
			slog.Debug("cache hit", "url", req.URL, "schema", schema.ID)
			return &Result{
				OK:        true,
				Data:      c.Data,
				Degraded:  c.Degraded,
				Missing:   c.Missing,
				Schema:    schema.ID,
				SourceURL: c.SourceURL,
				Strategy:  c.Strategy,
				Drift:     c.Drift,
				Cached:    true,
			}
		}
		slog.Warn("cache entry unreadable, refetching", "key", key, "error", err)
	}

	// ── 3. Fetch ─────────────────────────────────────────────────────
	minBody := schema.MinBodyLength
	if minBody == 0 {
		minBody = p.opts.MinBodyLength
	}
	policy := engine.Policy{
		Marker:        schema.Marker,
		MinBodyLength: minBody,
		ReadySelector: schema.ReadySelector,
		Strategies:    req.Strategies,
		Headers:       entry.Headers,
	}

	fetchStart := time.Now()
	fr, err := p.fetcher.Fetch(ctx, req.URL, policy)
	fetchTime := time.Since(fetchStart)
	if err != nil {
		kind := models.KindOf(err)
		if kind == "" {
			kind = models.KindOther
		}
		fail := failure(req, kind, err.Error(), err)
		fail.FetchTime = fetchTime
		slog.Warn("fetch failed", "url", req.URL, "schema", schema.ID, "kind", kind, "error", err)
		return fail
	}

	// ── 4. Extract ───────────────────────────────────────────────────
	base := fr.FinalURL
	if base == "" {
		base = req.URL
	}
	extractStart := time.Now()
	ext := p.extractor.Extract(fr.HTML, base, schema)
	extractTime := time.Since(extractStart)

	res = &Result{
		OK:          true,
		Data:        ext.Record,
		Degraded:    ext.Degraded,
		Missing:     ext.MissingRequired,
		Schema:      schema.ID,
		SourceURL:   base,
		Strategy:    fr.Strategy,
		Attempts:    fr.Attempts,
		FetchTime:   fetchTime,
		ExtractTime: extractTime,
	}

	if ext.Degraded {
		if d, ok := p.drift.distance(schema.ID, fr.HTML); ok {
			res.Drift = &d
		}
		slog.Warn("extraction degraded",
			"url", req.URL, "schema", schema.ID, "missing", ext.MissingRequired,
			"strategy", fr.Strategy, "drift", res.Drift)
		p.notify(ctx, entry, res)
	} else {
		p.drift.observe(schema.ID, fr.HTML)
	}

	// ── 5. Store ─────────────────────────────────────────────────────
	ttl := schema.TTL
	if ttl <= 0 {
		ttl = p.opts.DefaultTTL
	}
	value, err := json.Marshal(&cached{
		Data:      res.Data,
		Degraded:  res.Degraded,
		Missing:   res.Missing,
		SourceURL: res.SourceURL,
		Strategy:  res.Strategy,
		Drift:     res.Drift,
	})
	if err == nil {
		err = p.store.Set(ctx, key, value, ttl)
	}
	if err != nil {
		slog.Warn("cache store failed", "url", req.URL, "schema", schema.ID, "error", err)
	}

	return res
}

func (p *Pipeline) notify(ctx context.Context, entry *catalog.Entry, res *Result) {
	if p.notifier == nil {
		return
	}
	p.notifier.Degraded(ctx, &Alert{
		Schema:    entry.Schema.ID,
		Site:      entry.Site,
		URL:       res.SourceURL,
		Missing:   res.Missing,
		Strategy:  res.Strategy,
		Drift:     res.Drift,
		Timestamp: time.Now().Unix(),
	})
}

func failure(req models.ResourceRequest, kind models.ErrorKind, msg string, err error) *Result {
	res := &Result{
		Schema:    req.Schema,
		SourceURL: req.URL,
		ErrorKind: kind,
		Message:   msg,
	}
	var f *engine.Failure
	if errors.As(err, &f) {
		res.Attempts = f.Attempts
	}
	return res
}
