package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/use-agent/purify/api"
	"github.com/use-agent/purify/cache"
	"github.com/use-agent/purify/cleaner"
	"github.com/use-agent/purify/config"
	"github.com/use-agent/purify/domainconfig"
	"github.com/use-agent/purify/domainfilter"
	"github.com/use-agent/purify/engine"
	"github.com/use-agent/purify/failurelog"
	"github.com/use-agent/purify/llm"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/orchestrator"
	"github.com/use-agent/purify/scraper"
	"github.com/use-agent/purify/search"
	"go.etcd.io/bbolt"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("purify starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
	)

	// ── 3. Initialise scraper (launches browser) ────────────────────
	sc, err := scraper.NewScraper(cfg.Browser, cfg.Scraper)
	if err != nil {
		slog.Error("failed to initialise scraper", "error", err)
		os.Exit(1)
	}
	defer sc.Close()

	// ── 3b. Initialise multi-engine dispatcher ─────────────────────
	if cfg.Engine.EnableMultiEngine {
		// Rod callback: wraps the scraper's DoScrapeRod (bypasses the dispatcher).
		// This closure avoids a circular import (engine/ never imports scraper/).
		rodFetch := func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
			scrapeReq := &models.ScrapeRequest{
				URL:     req.URL,
				Timeout: int(req.Timeout.Seconds()),
				Stealth: req.Stealth,
				Headers: req.Headers,
			}
			scrapeReq.Defaults()

			result, err := sc.DoScrapeRod(ctx, scrapeReq)
			if err != nil {
				return nil, err
			}
			return &engine.FetchResult{
				HTML:       result.RawHTML,
				Title:      result.Title,
				StatusCode: result.StatusCode,
				FinalURL:   result.FinalURL,
			}, nil
		}

		httpEngine := engine.NewHTTPEngine()
		rodEngine := engine.NewRodEngine(rodFetch, false)
		rodStealthEngine := engine.NewRodEngine(rodFetch, true)

		engines := []engine.Engine{httpEngine, rodEngine, rodStealthEngine}
		memory := engine.NewDomainMemory(24 * time.Hour)
		dispatcher := engine.NewDispatcher(engines, cfg.Engine.EscalationDelays, memory)

		sc.SetDispatcher(dispatcher)
		slog.Info("multi-engine dispatcher enabled",
			"engines", len(engines),
			"delays", cfg.Engine.EscalationDelays,
		)
	}

	// ── 4. Open the persistent store backing domain config, the page
	// cache, and the failure log ────────────────────────────────────
	if dir := filepath.Dir(cfg.DomainConfig.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create db directory", "error", err)
			os.Exit(1)
		}
	}
	db, err := bbolt.Open(cfg.DomainConfig.DBPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		slog.Error("failed to open db", "path", cfg.DomainConfig.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	domainCfgStore, err := domainconfig.New(db, cfg.DomainConfig.RefreshInterval)
	if err != nil {
		slog.Error("failed to initialise domain config store", "error", err)
		os.Exit(1)
	}
	startCtx, startCancel := context.WithCancel(context.Background())
	if err := domainCfgStore.Start(startCtx); err != nil {
		slog.Error("failed to start domain config refresh loop", "error", err)
		os.Exit(1)
	}
	defer func() { domainCfgStore.Stop(); startCancel() }()

	pageCache, err := cache.NewStore(db)
	if err != nil {
		slog.Error("failed to initialise page cache store", "error", err)
		os.Exit(1)
	}
	defer pageCache.Close()

	failureLog, err := failurelog.New(db)
	if err != nil {
		slog.Error("failed to initialise failure log", "error", err)
		os.Exit(1)
	}

	domainFilter := domainfilter.New()
	// Non-fatal: an empty filter degrades to "no adblock-list suppression",
	// not a crash. Cache file lives alongside the bbolt db.
	filterCacheFile := filepath.Join(filepath.Dir(cfg.DomainConfig.DBPath), "domainfilter_cache.json")
	if err := domainFilter.Load(context.Background(), nil, filterCacheFile); err != nil {
		slog.Warn("domain filter load failed, continuing without list-based suppression", "error", err)
	}

	// ── 4b. Initialise cleaner ───────────────────────────────────────
	cl := cleaner.NewCleaner(domainFilter, domainCfgStore)
	if cfg.Scraper.MinReadableContentLength > 0 {
		cleaner.MinContentLength = cfg.Scraper.MinReadableContentLength
	}

	// ── 4d. Initialise search client and LLM client ─────────────────
	searchClient := search.New(search.Config{
		BaseURL:     cfg.Search.BaseURL,
		APIKey:      cfg.Search.APIKey,
		AIKey:       cfg.Search.AIKey,
		MinInterval: cfg.Search.MinInterval,
	})
	llmClient := llm.NewClient(&http.Client{Timeout: 60 * time.Second})

	// ── 4e. Initialise the classifying fetcher and the orchestrator ──
	fetcher := scraper.NewFetcher(sc)
	orc := orchestrator.New(
		fetcher, cl, pageCache, domainCfgStore, failureLog, searchClient,
		nil, // OCR hook: unset, PDF/image scrapes fail as unsupported content
		cfg.Orchestrator.ScrapeConcurrency,
		cfg.Orchestrator.ResearchConcurrency,
		cfg.Orchestrator.DefaultCacheTTL,
	)

	// ── 5. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(sc, cl, llmClient, cfg, orc, searchClient, domainCfgStore, startTime)

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// sc.Close() runs via defer — drains page pool and kills Chrome.
	slog.Info("purify stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
