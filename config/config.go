package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Fetch     FetchConfig
	Cache     CacheConfig
	Catalog   CatalogConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the headless strategy's browser pool.
type BrowserConfig struct {
	// Enabled toggles the headless strategy at the end of the chain.
	Enabled bool // default: true

	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages bounds concurrently open pages.
	MaxPages int // default: 4

	// IdleTimeout closes the browser after this long without open pages.
	IdleTimeout time.Duration // default: 60s

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// ReadyTimeout bounds the wait for a schema's ready selector.
	ReadyTimeout time.Duration // default: 10s

	// SettleTime is the fixed wait used when a schema has no ready selector.
	SettleTime time.Duration // default: 2s

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string
}

// FetchConfig controls the direct and proxy strategies and retries.
type FetchConfig struct {
	// AttemptTimeout bounds a single strategy attempt.
	AttemptTimeout time.Duration // default: 20s

	// MaxTimeout caps the whole-call timeout a client may request.
	MaxTimeout time.Duration // default: 120s

	// ProxyBases are URL prefixes; the percent-encoded target is appended.
	// e.g. "https://worker.example.dev/?url="
	ProxyBases []string

	// ProxyRPS paces requests through each proxy endpoint.
	ProxyRPS float64 // default: 2

	// MaxRetries is the number of tries per strategy for transient failures.
	// The fetcher clamps it to 1..3.
	MaxRetries int // default: 3

	// BackoffBase is the first retry delay; it doubles per retry.
	BackoffBase time.Duration // default: 250ms

	// BackoffMax caps a single retry delay.
	BackoffMax time.Duration // default: 4s

	// MinBodyLength is the default visible-text threshold below which a
	// response counts as blocked. Schemas may override it.
	MinBodyLength int // default: 200
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached results (memory store).
	MaxEntries int // default: 1000

	// DefaultTTL applies to schemas without their own ttl.
	DefaultTTL time.Duration // default: 10m

	// SweepSpec is the cron spec for expired-entry sweeps.
	SweepSpec string // default: "@every 2m"

	// MongoURI switches the store to MongoDB when set.
	MongoURI string

	// MongoDatabase and MongoCollection locate the cache collection.
	MongoDatabase   string // default: "otakuscrape"
	MongoCollection string // default: "response_cache"
}

// CatalogConfig controls where site and schema definitions come from.
type CatalogConfig struct {
	// Dir holds *.yaml site files. Empty means the embedded defaults only.
	Dir string

	// ReloadSpec is an optional cron spec for periodic reloads.
	ReloadSpec string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// WebhookConfig controls degraded-extraction alerts.
type WebhookConfig struct {
	// URL receives alert events. Empty disables alerts.
	URL string

	// Secret signs payloads with HMAC-SHA256 when set.
	Secret string

	// Throttle is the minimum interval between alerts for one schema.
	Throttle time.Duration // default: 1h
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("OTAKU_HOST", "0.0.0.0"),
			Port: envIntOr("OTAKU_PORT", 8080),
			Mode: envOr("OTAKU_MODE", "release"),
		},
		Browser: BrowserConfig{
			Enabled:      envBoolOr("OTAKU_HEADLESS_ENABLED", true),
			Headless:     envBoolOr("OTAKU_HEADLESS", true),
			MaxPages:     envIntOr("OTAKU_MAX_PAGES", 4),
			IdleTimeout:  envDurationOr("OTAKU_BROWSER_IDLE_TIMEOUT", 60*time.Second),
			NoSandbox:    envBoolOr("OTAKU_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("OTAKU_BROWSER_BIN"),
			ReadyTimeout: envDurationOr("OTAKU_READY_TIMEOUT", 10*time.Second),
			SettleTime:   envDurationOr("OTAKU_SETTLE_TIME", 2*time.Second),
			BlockedResourceTypes: envSliceOr("OTAKU_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Fetch: FetchConfig{
			AttemptTimeout: envDurationOr("OTAKU_FETCH_TIMEOUT", 20*time.Second),
			MaxTimeout:     envDurationOr("OTAKU_MAX_TIMEOUT", 120*time.Second),
			ProxyBases:     envSliceOr("OTAKU_PROXY_BASES", nil),
			ProxyRPS:       envFloatOr("OTAKU_PROXY_RPS", 2.0),
			MaxRetries:     envIntOr("OTAKU_MAX_RETRIES", 3),
			BackoffBase:    envDurationOr("OTAKU_BACKOFF_BASE", 250*time.Millisecond),
			BackoffMax:     envDurationOr("OTAKU_BACKOFF_MAX", 4*time.Second),
			MinBodyLength:  envIntOr("OTAKU_MIN_BODY_LENGTH", 200),
		},
		Cache: CacheConfig{
			MaxEntries:      envIntOr("CACHE_MAX_ENTRIES", 1000),
			DefaultTTL:      envDurationOr("CACHE_DEFAULT_TTL", 10*time.Minute),
			SweepSpec:       envOr("CACHE_SWEEP_SPEC", "@every 2m"),
			MongoURI:        os.Getenv("CACHE_MONGO_URI"),
			MongoDatabase:   envOr("CACHE_MONGO_DATABASE", "otakuscrape"),
			MongoCollection: envOr("CACHE_MONGO_COLLECTION", "response_cache"),
		},
		Catalog: CatalogConfig{
			Dir:        os.Getenv("OTAKU_CATALOG_DIR"),
			ReloadSpec: os.Getenv("OTAKU_CATALOG_RELOAD_SPEC"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("OTAKU_AUTH_ENABLED", false),
			APIKeys: envSliceOr("OTAKU_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("OTAKU_RATE_RPS", 5.0),
			Burst:             envIntOr("OTAKU_RATE_BURST", 10),
		},
		Webhook: WebhookConfig{
			URL:      os.Getenv("OTAKU_WEBHOOK_URL"),
			Secret:   os.Getenv("OTAKU_WEBHOOK_SECRET"),
			Throttle: envDurationOr("OTAKU_WEBHOOK_THROTTLE", time.Hour),
		},
		Log: LogConfig{
			Level:  envOr("OTAKU_LOG_LEVEL", "info"),
			Format: envOr("OTAKU_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
