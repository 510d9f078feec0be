package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/otakuscrape/models"
)

// Browser is a running browser process that can open pages.
type Browser interface {
	NewPage() (Page, error)
	Close() error
}

// Page is one browser tab.
type Page interface {
	Load(ctx context.Context, load *PageLoad) (*Response, error)
	Close() error
}

// PageLoad describes one navigation.
type PageLoad struct {
	URL           string
	Headers       map[string]string
	ReadySelector string

	// ReadyTimeout bounds the wait for ReadySelector.
	ReadyTimeout time.Duration

	// SettleTime is waited after navigation when there is no ReadySelector.
	SettleTime time.Duration
}

// Launcher starts a new browser process.
type Launcher func() (Browser, error)

// Browser health scoring. A failure adds 1, a success takes off 0.5, and
// the browser is replaced once the score reaches retireScore or it has
// served retireUses pages.
const (
	retireScore = 3.0
	retireUses  = 50
)

// browserHandle wraps a Browser with checkout and health bookkeeping.
// All fields are guarded by BrowserPool.mu.
type browserHandle struct {
	id       int64
	b        Browser
	open     int
	uses     int
	errScore float64
	retired  bool
	closed   bool
	created  time.Time
}

func (h *browserHandle) record(ok bool) {
	h.uses++
	if ok {
		h.errScore = math.Max(0, h.errScore-0.5)
	} else {
		h.errScore += 1.0
	}
}

func (h *browserHandle) shouldRetire() bool {
	return h.errScore >= retireScore || h.uses >= retireUses
}

// BrowserPool owns a single lazily launched browser and bounds how many
// pages may be open on it at once. The browser is closed after it has had
// no open page for the idle timeout, and replaced when its health degrades.
type BrowserPool struct {
	launch      Launcher
	maxPages    int
	idleTimeout time.Duration
	sem         chan struct{}

	mu        sync.Mutex
	current   *browserHandle
	launching *launchWait
	nextID    int64
	idleTimer *time.Timer
	idleGen   uint64
	closed    bool

	active   atomic.Int32
	served   atomic.Int64
	recycles atomic.Int64
}

// launchWait is an in-flight browser launch. err is set before done closes.
type launchWait struct {
	done chan struct{}
	err  error
}

// NewBrowserPool creates a pool. No browser is launched until the first
// page is requested.
func NewBrowserPool(launch Launcher, maxPages int, idleTimeout time.Duration) *BrowserPool {
	if maxPages < 1 {
		maxPages = 1
	}
	return &BrowserPool{
		launch:      launch,
		maxPages:    maxPages,
		idleTimeout: idleTimeout,
		sem:         make(chan struct{}, maxPages),
	}
}

// WithPage opens a page, runs fn with it, and closes the page again,
// also when fn fails or panics. It blocks while maxPages pages are open.
func (p *BrowserPool) WithPage(ctx context.Context, fn func(Page) error) error {
	// ── 1. Acquire a page slot ───────────────────────────────────────
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	// ── 2. Check out the browser (launching it if needed) ────────────
	h, err := p.checkout(ctx)
	if err != nil {
		return err
	}
	ok := false
	defer func() { p.checkin(h, ok) }()

	// ── 3. Open the page; it is closed on every exit path ────────────
	page, err := h.b.NewPage()
	if err != nil {
		return fmt.Errorf("browser pool: open page: %w", err)
	}
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		if cerr := page.Close(); cerr != nil {
			slog.Debug("browser pool: close page failed", "error", cerr)
		}
	}()

	if err := fn(page); err != nil {
		return err
	}
	ok = true
	return nil
}

// checkout returns the current browser, launching one if there is none.
// The launch runs outside p.mu and is shared by all waiters; each waiter
// gives up when its ctx is done, while the launch itself carries on.
func (p *BrowserPool) checkout(ctx context.Context) (*browserHandle, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if p.idleTimer != nil {
			p.idleTimer.Stop()
			p.idleTimer = nil
		}
		p.idleGen++

		if h := p.current; h != nil {
			h.open++
			p.mu.Unlock()
			return h, nil
		}

		w := p.launching
		if w == nil {
			w = &launchWait{done: make(chan struct{})}
			p.launching = w
			go p.launchBrowser(w)
		}
		p.mu.Unlock()

		select {
		case <-w.done:
			// A pool closed mid-launch is reported by the next pass.
			if w.err != nil && !errors.Is(w.err, ErrPoolClosed) {
				return nil, models.NewScrapeError(models.KindNetwork, "failed to launch browser", w.err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// launchBrowser starts a browser for w and installs it as current. A
// browser that nobody checks out is closed by the idle timer.
func (p *BrowserPool) launchBrowser(w *launchWait) {
	b, err := p.launch()

	p.mu.Lock()
	p.launching = nil
	if err != nil {
		w.err = err
		p.mu.Unlock()
		close(w.done)
		return
	}
	if p.closed {
		w.err = ErrPoolClosed
		p.mu.Unlock()
		close(w.done)
		if cerr := b.Close(); cerr != nil {
			slog.Warn("browser close failed", "error", cerr)
		}
		return
	}
	p.nextID++
	id := p.nextID
	p.current = &browserHandle{id: id, b: b, created: time.Now()}
	if p.idleTimeout > 0 {
		gen := p.idleGen
		p.idleTimer = time.AfterFunc(p.idleTimeout, func() { p.closeIdle(gen) })
	}
	p.mu.Unlock()
	close(w.done)
	slog.Info("browser launched", "id", id)
}

func (p *BrowserPool) checkin(h *browserHandle, ok bool) {
	p.mu.Lock()

	h.open--
	h.record(ok)
	p.served.Add(1)

	if !h.retired && h.shouldRetire() {
		h.retired = true
		p.recycles.Add(1)
		if p.current == h {
			p.current = nil
		}
		slog.Info("browser retired",
			"id", h.id, "errScore", h.errScore, "uses", h.uses, "age", time.Since(h.created).Round(time.Second))
	}

	var toClose *browserHandle
	if h.retired && h.open == 0 && !h.closed {
		h.closed = true
		toClose = h
	}

	if p.current != nil && p.current.open == 0 && !p.closed && p.idleTimeout > 0 {
		gen := p.idleGen
		p.idleTimer = time.AfterFunc(p.idleTimeout, func() { p.closeIdle(gen) })
	}
	p.mu.Unlock()

	if toClose != nil {
		closeBrowser(toClose)
	}
}

// closeIdle closes the current browser if nothing was checked out since
// the timer for gen was armed.
func (p *BrowserPool) closeIdle(gen uint64) {
	p.mu.Lock()
	h := p.current
	if p.closed || gen != p.idleGen || h == nil || h.open > 0 {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.idleTimer = nil
	h.closed = true
	p.mu.Unlock()

	slog.Info("browser idle, closing", "id", h.id, "idle", p.idleTimeout)
	closeBrowser(h)
}

func closeBrowser(h *browserHandle) {
	if err := h.b.Close(); err != nil {
		slog.Warn("browser close failed", "id", h.id, "error", err)
	}
}

// Stats returns a snapshot of the pool state.
func (p *BrowserPool) Stats() models.PoolStats {
	p.mu.Lock()
	running := p.current != nil
	p.mu.Unlock()
	return models.PoolStats{
		MaxPages:       p.maxPages,
		ActivePages:    int(p.active.Load()),
		BrowserRunning: running,
		PagesServed:    p.served.Load(),
		Recycles:       p.recycles.Load(),
	}
}

// Close shuts the browser down. Later WithPage calls return ErrPoolClosed.
func (p *BrowserPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
	h := p.current
	p.current = nil
	if h != nil {
		h.retired = true
		h.closed = true
	}
	p.mu.Unlock()

	if h != nil {
		slog.Info("browser pool shutting down", "id", h.id)
		closeBrowser(h)
	}
}
