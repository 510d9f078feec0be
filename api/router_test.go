package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/otakuscrape/cache"
	"github.com/use-agent/otakuscrape/catalog"
	"github.com/use-agent/otakuscrape/config"
	"github.com/use-agent/otakuscrape/extractor"
	"github.com/use-agent/otakuscrape/models"
	"github.com/use-agent/otakuscrape/pipeline"
)

// stubResources records requests and answers them with fn.
type stubResources struct {
	mu   sync.Mutex
	reqs []models.ResourceRequest
	fn   func(models.ResourceRequest) *pipeline.Result
}

func (s *stubResources) GetResource(ctx context.Context, req models.ResourceRequest) *pipeline.Result {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(req)
	}
	return okResult(req)
}

func (s *stubResources) calls() []models.ResourceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ResourceRequest(nil), s.reqs...)
}

func okResult(req models.ResourceRequest) *pipeline.Result {
	rec := extractor.NewRecord()
	rec.Set("title", "Solo Leveling")
	return &pipeline.Result{
		OK:        true,
		Data:      rec,
		Schema:    req.Schema,
		SourceURL: req.URL,
		Strategy:  "direct",
	}
}

func failResult(req models.ResourceRequest, kind models.ErrorKind) *pipeline.Result {
	return &pipeline.Result{
		Schema:    req.Schema,
		SourceURL: req.URL,
		ErrorKind: kind,
		Message:   "fetch failed: " + string(kind),
	}
}

func newTestRouter(t *testing.T, res *stubResources, mutate func(*config.Config)) http.Handler {
	t.Helper()
	cfg := config.Load()
	cfg.Server.Mode = "test"
	cfg.RateLimit.Burst = 100
	cfg.RateLimit.RequestsPerSecond = 100
	if mutate != nil {
		mutate(cfg)
	}
	reg, err := catalog.NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	return NewRouter(Deps{
		Resources: res,
		Registry:  reg,
		Store:     cache.NewMemory(10),
		PoolStats: func() models.PoolStats { return models.PoolStats{MaxPages: 4, ActivePages: 1} },
		StartTime: time.Now(),
	}, cfg)
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthSkipsAuth(t *testing.T) {
	h := newTestRouter(t, &stubResources{}, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKeys = []string{"secret"}
	})

	w := do(t, h, http.MethodGet, "/api/v1/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	health := decode[models.HealthResponse](t, w)
	if health.Status != "healthy" || health.Schemas == 0 || health.PoolStats.MaxPages != 4 {
		t.Errorf("health = %+v", health)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}

func TestAuth(t *testing.T) {
	h := newTestRouter(t, &stubResources{}, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKeys = []string{"secret"}
	})

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"empty bearer", map[string]string{"Authorization": "Bearer "}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, "/api/v1/sites", nil, tt.headers)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				resp := decode[models.ResourceResponse](t, w)
				if resp.Error == nil || resp.Error.Kind != models.KindUnauthorized {
					t.Errorf("error = %+v", resp.Error)
				}
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(t, &stubResources{}, func(c *config.Config) {
		c.RateLimit.RequestsPerSecond = 0.001
		c.RateLimit.Burst = 1
	})

	if w := do(t, h, http.MethodGet, "/api/v1/sites", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}
	w := do(t, h, http.MethodGet, "/api/v1/sites", nil, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
	if resp := decode[models.ResourceResponse](t, w); resp.Error == nil || resp.Error.Kind != models.KindRateLimited {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestSitesListing(t *testing.T) {
	h := newTestRouter(t, &stubResources{}, nil)

	w := do(t, h, http.MethodGet, "/api/v1/sites", nil, nil)
	resp := decode[models.SitesResponse](t, w)
	if !resp.Success || len(resp.Sites) != 3 {
		t.Fatalf("sites = %+v", resp)
	}
	names := []string{resp.Sites[0].Name, resp.Sites[1].Name, resp.Sites[2].Name}
	if strings.Join(names, ",") != "anoboy,manhwaindo,otakudesu" {
		t.Errorf("site order = %v", names)
	}
}

func TestResource(t *testing.T) {
	res := &stubResources{}
	h := newTestRouter(t, res, nil)

	w := do(t, h, http.MethodPost, "/api/v1/resource", map[string]any{
		"url":    "https://manhwaindo.app/series/solo-leveling/",
		"schema": "manhwaindo.series",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[models.ResourceResponse](t, w)
	if !resp.Success || resp.CacheStatus != "miss" || resp.Strategy != "direct" {
		t.Errorf("resp = %+v", resp)
	}
	data, _ := resp.Data.(map[string]any)
	if data["title"] != "Solo Leveling" {
		t.Errorf("data = %v", resp.Data)
	}

	calls := res.calls()
	if len(calls) != 1 || calls[0].Page != 1 || calls[0].Timeout != 45 {
		t.Errorf("pipeline got %+v, want defaults applied", calls)
	}
}

func TestResourceRejectsBadBody(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"not json", "{"},
		{"missing schema", map[string]any{"url": "https://a.test/"}},
		{"bad url", map[string]any{"url": "not a url", "schema": "x"}},
		{"bad page", map[string]any{"url": "https://a.test/", "schema": "x", "page": -1}},
		{"timeout too long", map[string]any{"url": "https://a.test/", "schema": "x", "timeout": 500}},
		{"page beyond the url", map[string]any{"url": "https://a.test/", "schema": "x", "page": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &stubResources{}
			h := newTestRouter(t, res, nil)
			w := do(t, h, http.MethodPost, "/api/v1/resource", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if resp := decode[models.ResourceResponse](t, w); resp.Error == nil || resp.Error.Kind != models.KindInvalid {
				t.Errorf("error = %+v", resp.Error)
			}
			if len(res.calls()) != 0 {
				t.Error("pipeline called for a bad request")
			}
		})
	}
}

func TestResourceStatusMapping(t *testing.T) {
	tests := []struct {
		kind models.ErrorKind
		want int
	}{
		{models.KindInvalid, http.StatusBadRequest},
		{models.KindNotFound, http.StatusNotFound},
		{models.KindTimeout, http.StatusGatewayTimeout},
		{models.KindBlocked, http.StatusBadGateway},
		{models.KindExhausted, http.StatusBadGateway},
		{models.KindUpstream, http.StatusBadGateway},
		{models.KindNetwork, http.StatusBadGateway},
		{models.KindOther, http.StatusBadGateway},
		{models.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			res := &stubResources{fn: func(r models.ResourceRequest) *pipeline.Result { return failResult(r, tt.kind) }}
			h := newTestRouter(t, res, nil)
			w := do(t, h, http.MethodPost, "/api/v1/resource", map[string]any{
				"url": "https://a.test/", "schema": "manhwaindo.series",
			}, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			resp := decode[models.ResourceResponse](t, w)
			if resp.Success || resp.Message == "" || resp.Error == nil || resp.Error.Kind != tt.kind {
				t.Errorf("resp = %+v", resp)
			}
			if resp.Data != nil || resp.CacheStatus != "" {
				t.Errorf("failure carries data or cache status: %+v", resp)
			}
		})
	}
}

func TestResourceDegraded(t *testing.T) {
	drift := 17
	res := &stubResources{fn: func(r models.ResourceRequest) *pipeline.Result {
		out := okResult(r)
		out.Degraded = true
		out.Missing = []string{"title", "chapters.slug"}
		out.Drift = &drift
		out.Cached = true
		return out
	}}
	h := newTestRouter(t, res, nil)

	w := do(t, h, http.MethodPost, "/api/v1/resource", map[string]any{
		"url": "https://a.test/", "schema": "manhwaindo.series",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[models.ResourceResponse](t, w)
	if !resp.Success || !resp.Degraded || resp.CacheStatus != "hit" {
		t.Errorf("resp = %+v", resp)
	}
	if !strings.Contains(resp.Warning, "title, chapters.slug") {
		t.Errorf("warning = %q", resp.Warning)
	}
	if resp.Drift == nil || *resp.Drift != 17 {
		t.Errorf("drift = %v", resp.Drift)
	}
}

func TestSiteResource(t *testing.T) {
	res := &stubResources{}
	h := newTestRouter(t, res, nil)

	w := do(t, h, http.MethodGet, "/api/v1/sites/manhwaindo/series-list?page=2&order=popular&type=manhwa", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	calls := res.calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	got := calls[0]
	if got.URL != "https://manhwaindo.app/series/?order=popular&page=2&type=manhwa" ||
		got.Schema != "manhwaindo.list" || got.Page != 2 {
		t.Errorf("resolved = %+v", got)
	}
}

func TestSiteResourceErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown site", "/api/v1/sites/nowhere/latest", http.StatusNotFound},
		{"unknown endpoint", "/api/v1/sites/manhwaindo/nothing", http.StatusNotFound},
		{"missing slug", "/api/v1/sites/manhwaindo/series", http.StatusBadRequest},
		{"bad page", "/api/v1/sites/otakudesu/ongoing?page=zero", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &stubResources{}
			h := newTestRouter(t, res, nil)
			w := do(t, h, http.MethodGet, tt.path, nil, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if len(res.calls()) != 0 {
				t.Error("pipeline called for an unresolvable endpoint")
			}
		})
	}
}

func TestBatchKeepsOrder(t *testing.T) {
	res := &stubResources{fn: func(r models.ResourceRequest) *pipeline.Result {
		if strings.Contains(r.URL, "gone") {
			return failResult(r, models.KindNotFound)
		}
		// Earlier requests finish later.
		if strings.HasSuffix(r.URL, "/0") {
			time.Sleep(20 * time.Millisecond)
		}
		return okResult(r)
	}}
	h := newTestRouter(t, res, nil)

	urls := []string{"https://a.test/0", "https://a.test/gone", "https://a.test/2"}
	var reqs []map[string]any
	for _, u := range urls {
		reqs = append(reqs, map[string]any{"url": u, "schema": "manhwaindo.series"})
	}
	w := do(t, h, http.MethodPost, "/api/v1/batch", map[string]any{"requests": reqs}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[models.BatchResponse](t, w)
	if resp.Status != "partial" || resp.Completed != 2 || resp.Failed != 1 || resp.Total != 3 {
		t.Errorf("batch = %+v", resp)
	}
	for i, r := range resp.Results {
		if r.SourceURL != urls[i] {
			t.Errorf("results[%d] = %s, want %s", i, r.SourceURL, urls[i])
		}
	}
	if resp.Results[1].Error == nil || resp.Results[1].Error.Kind != models.KindNotFound {
		t.Errorf("results[1].Error = %+v", resp.Results[1].Error)
	}
}

func TestBatchLimits(t *testing.T) {
	var reqs []map[string]any
	for range 21 {
		reqs = append(reqs, map[string]any{"url": "https://a.test/", "schema": "x"})
	}
	tests := []struct {
		name string
		body any
	}{
		{"empty", map[string]any{"requests": []any{}}},
		{"too many", map[string]any{"requests": reqs}},
		{"invalid item", map[string]any{"requests": []any{map[string]any{"url": "https://a.test/"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &stubResources{}
			h := newTestRouter(t, res, nil)
			if w := do(t, h, http.MethodPost, "/api/v1/batch", tt.body, nil); w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if len(res.calls()) != 0 {
				t.Error("pipeline called for a rejected batch")
			}
		})
	}
}

func TestReloadBuiltin(t *testing.T) {
	h := newTestRouter(t, &stubResources{}, nil)

	w := do(t, h, http.MethodPost, "/api/v1/schemas/reload", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[models.ReloadResponse](t, w)
	if !resp.Success || resp.Sites != 3 || resp.Schemas == 0 {
		t.Errorf("reload = %+v", resp)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	h := newTestRouter(t, &stubResources{}, nil)

	w := do(t, h, http.MethodGet, "/api/v1/sites", nil, map[string]string{"X-Request-ID": "abc-123"})
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}
