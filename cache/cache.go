package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Entry is one cached pipeline result.
type Entry struct {
	Value    []byte
	StoredAt time.Time
	TTL      time.Duration
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL
}

// Store is a TTL cache of successful pipeline results.
// Writes are all-or-nothing per key.
type Store interface {
	// Get returns a live entry. Expired entries are never returned.
	Get(ctx context.Context, key string) (*Entry, bool)

	// Set replaces the entry for key.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Sweep drops expired entries and returns how many were removed.
	Sweep(ctx context.Context) int

	// Len returns the number of stored entries, expired or not.
	Len(ctx context.Context) int
}

// Key generates a cache key from the schema id, the normalized URL and
// the page cursor.
func Key(schemaID, rawURL string, page int) string {
	h := sha256.New()
	h.Write([]byte(schemaID))
	h.Write([]byte("|"))
	h.Write([]byte(NormalizeURL(rawURL)))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.Itoa(page)))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL lowercases scheme and host, drops the fragment and sorts
// query parameters so equivalent URLs share one key.
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}

// Memory is an in-memory Store. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	store      map[string]*Entry
	maxEntries int
	now        func() time.Time
}

// Option configures a Memory store.
type Option func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates a Memory store holding at most maxEntries entries.
// Expired entries are dropped lazily on Get and in bulk by Sweep.
func NewMemory(maxEntries int, opts ...Option) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	m := &Memory{
		store:      make(map[string]*Entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, bool) {
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if e.Expired(m.now()) {
		m.mu.Lock()
		if cur, ok := m.store[key]; ok && cur == e {
			delete(m.store, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e, true
}

// Set stores value under key. At capacity an expired entry is evicted if
// there is one, otherwise the oldest.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := m.now()
	e := &Entry{Value: value, StoredAt: now, TTL: ttl}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.store[key]; !exists && len(m.store) >= m.maxEntries {
		m.evictLocked(now)
	}
	m.store[key] = e
	return nil
}

func (m *Memory) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range m.store {
		if e.Expired(now) {
			delete(m.store, k)
			return
		}
		if oldestKey == "" || e.StoredAt.Before(oldest) {
			oldestKey, oldest = k, e.StoredAt
		}
	}
	delete(m.store, oldestKey)
}

func (m *Memory) Sweep(_ context.Context) int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.store {
		if e.Expired(now) {
			delete(m.store, k)
			removed++
		}
	}
	return removed
}

func (m *Memory) Len(_ context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
