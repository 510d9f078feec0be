package models

// ResourceResponse is the uniform envelope returned by every resource route.
type ResourceResponse struct {
	// Success is false only when no usable HTML was obtained.
	Success bool `json:"success"`

	// Data is the normalized record. Absent fields are present as null.
	Data any `json:"data,omitempty"`

	// Degraded marks a record with one or more required fields missing.
	Degraded bool     `json:"degraded,omitempty"`
	Missing  []string `json:"missing,omitempty"`
	Warning  string   `json:"warning,omitempty"`

	// Schema and SourceURL identify what was extracted from where.
	Schema    string `json:"schema,omitempty"`
	SourceURL string `json:"source_url,omitempty"`

	// Strategy is the fetch strategy that produced the HTML.
	Strategy string `json:"strategy,omitempty"`

	// CacheStatus is "hit" or "miss".
	CacheStatus string `json:"cache_status,omitempty"`

	// Drift is the DOM-shape distance from the last healthy page of the
	// same schema (0-64), reported only for degraded results.
	Drift *int `json:"drift,omitempty"`

	// Attempts lists every fetch attempt of this call, for diagnostics.
	Attempts []FetchAttempt `json:"attempts,omitempty"`

	Timing TimingInfo `json:"timing"`

	// Message is a human-readable failure description.
	Message string       `json:"message,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// FetchAttempt records one try of one fetch strategy.
type FetchAttempt struct {
	Strategy   string    `json:"strategy"`
	Kind       string    `json:"kind"`    // direct, proxy or headless
	Outcome    ErrorKind `json:"outcome"` // "" on success
	StatusCode int       `json:"status_code,omitempty"`
	Try        int       `json:"try"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// OK reports whether the attempt produced usable HTML.
func (a FetchAttempt) OK() bool { return a.Outcome == "" }

// TimingInfo provides duration breakdowns in milliseconds.
type TimingInfo struct {
	TotalMs   int64 `json:"total_ms"`
	FetchMs   int64 `json:"fetch_ms"`
	ExtractMs int64 `json:"extract_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status       string    `json:"status"`
	Uptime       string    `json:"uptime"`
	PoolStats    PoolStats `json:"pool_stats"`
	CacheEntries int       `json:"cache_entries"`
	Schemas      int       `json:"schemas"`
	Version      string    `json:"version"`
}

// PoolStats reports browser pool utilisation.
type PoolStats struct {
	MaxPages       int   `json:"max_pages"`
	ActivePages    int   `json:"active_pages"`
	BrowserRunning bool  `json:"browser_running"`
	PagesServed    int64 `json:"pages_served"`
	Recycles       int64 `json:"recycles"`
}

// SiteInfo describes one catalog site for GET /api/v1/sites.
type SiteInfo struct {
	Name      string         `json:"name"`
	Category  string         `json:"category"`
	BaseURL   string         `json:"base_url"`
	Endpoints []EndpointInfo `json:"endpoints"`
}

// EndpointInfo describes one resolvable catalog endpoint.
type EndpointInfo struct {
	Name   string   `json:"name"`
	Schema string   `json:"schema"`
	Path   string   `json:"path"`
	Params []string `json:"params,omitempty"`
}

// SitesResponse is the response for GET /api/v1/sites.
type SitesResponse struct {
	Success bool       `json:"success"`
	Sites   []SiteInfo `json:"sites"`
}

// ReloadResponse is the response for POST /api/v1/schemas/reload.
type ReloadResponse struct {
	Success bool         `json:"success"`
	Sites   int          `json:"sites"`
	Schemas int          `json:"schemas"`
	Error   *ErrorDetail `json:"error,omitempty"`
}
