package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// RodOptions configures browsers started by RodLauncher.
type RodOptions struct {
	Headless  bool
	NoSandbox bool
	Bin       string

	// BlockedResourceTypes are rod resource type names ("Image", "Font",
	// "Media", ...) refused by every page.
	BlockedResourceTypes []string
}

// RodLauncher returns a Launcher that starts Chromium through rod.
func RodLauncher(opts RodOptions) Launcher {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(opts.BlockedResourceTypes))
	for _, name := range opts.BlockedResourceTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}

	return func() (Browser, error) {
		l := launcher.New().
			Headless(opts.Headless).
			NoSandbox(opts.NoSandbox)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}

		// ── Stealth flags ────────────────────────────────────────────
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
		l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
		l.Set(flags.Flag("disable-background-timer-throttling"))
		l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
		l.Set(flags.Flag("disable-renderer-backgrounding"))
		l.Set(flags.Flag("disable-component-update"))
		l.Set(flags.Flag("disable-default-apps"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-extensions"))
		l.Set(flags.Flag("no-first-run"))

		controlURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rod: launch: %w", err)
		}

		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			l.Kill()
			return nil, fmt.Errorf("rod: connect: %w", err)
		}
		return &rodBrowser{browser: browser, launcher: l, blocked: blocked}, nil
	}
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	blocked  map[proto.NetworkResourceType]struct{}
}

func (b *rodBrowser) NewPage() (Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	return &rodPage{page: page, blocked: b.blocked}, nil
}

// Close closes the browser and kills its process.
func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return err
}

type rodPage struct {
	page    *rod.Page
	blocked map[proto.NetworkResourceType]struct{}
}

func (p *rodPage) Close() error { return p.page.Close() }

// Load navigates the page and reads the rendered document.
//
// Stealth, headers, and the hijack router must be in place before
// Navigate; they only affect navigations started after them.
func (p *rodPage) Load(ctx context.Context, load *PageLoad) (*Response, error) {
	page := p.page

	// ── 1. Stealth injection ─────────────────────────────────────────
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}

	// ── 2. Headers ───────────────────────────────────────────────────
	headers := browserHeaders(load.URL, load.Headers)
	_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      headers["User-Agent"],
		AcceptLanguage: headers["Accept-Language"],
	})
	delete(headers, "User-Agent")
	delete(headers, "Accept-Encoding")
	_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}.Call(page)

	// ── 3. Resource blocking ─────────────────────────────────────────
	if router := setupHijack(page, p.blocked); router != nil {
		defer func() { _ = router.Stop() }()
	}

	// ── 4. Navigate under the caller's deadline ──────────────────────
	pc := page.Context(ctx)
	if err := pc.Navigate(load.URL); err != nil {
		return nil, fmt.Errorf("rod: navigate: %w", err)
	}

	// ── 5. Wait for content ──────────────────────────────────────────
	if load.ReadySelector != "" {
		wait := pc.Timeout(load.ReadyTimeout)
		if _, err := wait.Element(load.ReadySelector); err != nil {
			slog.Debug("ready selector not found, reading current DOM",
				"url", load.URL, "selector", load.ReadySelector, "error", err)
		}
		wait.CancelTimeout()
	} else if load.SettleTime > 0 {
		t := time.NewTimer(load.SettleTime)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	// ── 6. Read the document ─────────────────────────────────────────
	var status int
	if res, err := pc.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); err == nil {
		status = res.Value.Int()
	}

	html, err := pc.HTML()
	if err != nil {
		return nil, fmt.Errorf("rod: read html: %w", err)
	}

	finalURL := evalStringOrEmpty(pc, `() => window.location.href`)
	if finalURL == "" {
		finalURL = load.URL
	}

	return &Response{
		Body:        html,
		StatusCode:  status,
		FinalURL:    finalURL,
		ContentType: evalStringOrEmpty(pc, `() => document.contentType`),
	}, nil
}

// configToProto maps config names to rod resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// setupHijack installs a request interceptor that fails requests of the
// blocked resource types. It returns nil when nothing is blocked.
func setupHijack(page *rod.Page, blocked map[proto.NetworkResourceType]struct{}) *rod.HijackRouter {
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if _, ok := blocked[h.Request.Type()]; ok {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// Run blocks until Stop.
	go router.Run()
	return router
}

func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts headers to the form NetworkSetExtraHTTPHeaders takes.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
