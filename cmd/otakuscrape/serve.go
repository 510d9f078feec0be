package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/otakuscrape/api"
	"github.com/use-agent/otakuscrape/cache"
	"github.com/use-agent/otakuscrape/catalog"
	"github.com/use-agent/otakuscrape/config"
	"github.com/use-agent/otakuscrape/engine"
	"github.com/use-agent/otakuscrape/models"
	"github.com/use-agent/otakuscrape/pipeline"
	"github.com/use-agent/otakuscrape/scheduler"
	"github.com/use-agent/otakuscrape/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func catalogDir() string {
	return config.Load().Catalog.Dir
}

func runServe(cmd *cobra.Command, args []string) error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("otakuscrape starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
		"proxies", len(cfg.Fetch.ProxyBases),
		"headless", cfg.Browser.Enabled,
	)

	// ── 3. Load the site catalog ────────────────────────────────────
	reg, err := catalog.NewRegistry(cfg.Catalog.Dir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	slog.Info("catalog loaded", "sites", len(reg.Sites()), "schemas", reg.Current().SchemaCount())

	// ── 4. Initialise cache store ───────────────────────────────────
	var store cache.Store
	var mongoStore *cache.Mongo
	if cfg.Cache.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mongoStore, err = cache.NewMongo(ctx, cfg.Cache.MongoURI, cfg.Cache.MongoDatabase, cfg.Cache.MongoCollection)
		cancel()
		if err != nil {
			return err
		}
		store = mongoStore
	} else {
		store = cache.NewMemory(cfg.Cache.MaxEntries)
	}

	// ── 5. Build the strategy chain: direct → proxy* → headless ─────
	strategies := []engine.Strategy{engine.NewDirectStrategy()}
	for _, base := range cfg.Fetch.ProxyBases {
		strategies = append(strategies, engine.NewProxyStrategy(base, engine.ProxyOptions{
			RPS:    cfg.Fetch.ProxyRPS,
			Bypass: true,
		}))
	}

	var pool *engine.BrowserPool
	poolStats := func() models.PoolStats { return models.PoolStats{} }
	if cfg.Browser.Enabled {
		pool = engine.NewBrowserPool(engine.RodLauncher(engine.RodOptions{
			Headless:             cfg.Browser.Headless,
			NoSandbox:            cfg.Browser.NoSandbox,
			Bin:                  cfg.Browser.BrowserBin,
			BlockedResourceTypes: cfg.Browser.BlockedResourceTypes,
		}), cfg.Browser.MaxPages, cfg.Browser.IdleTimeout)
		poolStats = pool.Stats
		strategies = append(strategies, engine.NewHeadlessStrategy(pool, cfg.Browser.ReadyTimeout, cfg.Browser.SettleTime))
	}

	retry := engine.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Fetch.MaxRetries
	retry.BackoffBase = cfg.Fetch.BackoffBase
	retry.BackoffMax = cfg.Fetch.BackoffMax
	fetcher := engine.NewFetcher(strategies, retry, cfg.Fetch.AttemptTimeout)
	slog.Info("fetch chain ready", "strategies", fetcher.Strategies())

	// ── 6. Degraded-extraction alerts ───────────────────────────────
	var notifier pipeline.Notifier
	var hook *webhook.Notifier
	if cfg.Webhook.URL != "" {
		hook = webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Throttle)
		notifier = hook
	}

	// ── 7. Pipeline ─────────────────────────────────────────────────
	pipe := pipeline.New(fetcher, reg, store, notifier, pipeline.Options{
		DefaultTTL:    cfg.Cache.DefaultTTL,
		MinBodyLength: cfg.Fetch.MinBodyLength,
	})

	// ── 8. Maintenance jobs ─────────────────────────────────────────
	sched := scheduler.New()
	if err := sched.Every("cache-sweep", cfg.Cache.SweepSpec, func() {
		if n := store.Sweep(context.Background()); n > 0 {
			slog.Debug("cache swept", "removed", n)
		}
	}); err != nil {
		return err
	}
	if cfg.Catalog.ReloadSpec != "" {
		if err := sched.Every("catalog-reload", cfg.Catalog.ReloadSpec, func() { _, _ = reg.Reload() }); err != nil {
			return err
		}
	}

	// ── 9. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(api.Deps{
		Resources: pipe,
		Registry:  reg,
		Store:     store,
		PoolStats: poolStats,
		StartTime: time.Now(),
	}, cfg)

	// ── 10. Start HTTP server ───────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── 11. Signals: SIGHUP reloads the catalog, others shut down ───
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	var runErr error
wait:
	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				slog.Info("SIGHUP received, reloading catalog")
				_, _ = reg.Reload()
				continue
			}
			slog.Info("shutdown signal received", "signal", sig.String())
			break wait
		case runErr = <-serveErr:
			slog.Error("HTTP server error", "error", runErr)
			break wait
		}
	}

	// ── 12. Graceful shutdown ───────────────────────────────────────
	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	sched.Stop(ctx)
	if pool != nil {
		pool.Close()
	}
	if hook != nil {
		hook.Close()
	}
	if mongoStore != nil {
		if err := mongoStore.Close(ctx); err != nil {
			slog.Warn("mongo disconnect failed", "error", err)
		}
	}

	slog.Info("otakuscrape stopped")
	return runErr
}
