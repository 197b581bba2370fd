package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/httpapi"
	"marketpulse/internal/macro"
	"marketpulse/internal/scheduler"
	"marketpulse/internal/source"
	"marketpulse/internal/util"
	"marketpulse/internal/watchlist"
)

func main() {
	// Load config.
	cfgPath := "config/marketpulse.yaml"
	if p := os.Getenv("MARKETPULSE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	palette, err := cfg.ChartPalette()
	if err != nil {
		log.Fatalf("building palette: %v", err)
	}

	// Record sources.
	upstream := source.NewHTTPSource(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, cfg.Upstream.RateLimitPerMin, logger)
	var alpacaSrc *source.AlpacaSource
	if cfg.Alpaca.Enabled() {
		alpacaSrc = source.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed, logger)
	}
	fetcher, closeFetcher, err := selectFetcher(cfg, upstream, alpacaSrc)
	if err != nil {
		log.Fatalf("initializing %s source: %v", cfg.Upstream.Source, err)
	}
	defer closeFetcher()

	// Macro indicators fall back to Alpaca closes for market momentum.
	var closes macro.CloseSource
	if alpacaSrc != nil {
		closes = alpacaSrc
	}
	macroBoard := macro.NewDashboard(upstream, closes, cfg.Alpaca.MacroSymbol, logger)

	wl, err := loadWatchlist(cfg, logger)
	if err != nil {
		log.Fatalf("loading watchlist: %v", err)
	}

	srv := httpapi.NewServer(fetcher, httpapi.Options{
		Palette:      palette,
		TopK:         cfg.Chart.TopEvents,
		ScoreField:   cfg.Chart.ScoreField,
		Macro:        macroBoard,
		Watchlist:    wl,
		SnapshotDir:  cfg.Storage.ParquetDir,
		CacheTTL:     cfg.Server.CacheTTL,
		FetchTimeout: cfg.Upstream.Timeout,
	}, logger)
	defer srv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(ctx, scheduler.Jobs{
		Macro:     macroBoard,
		OnMacro:   srv.BroadcastMacro,
		Warmer:    srv,
		Watchlist: wl,
	}, logger)
	if err := sched.Register(cfg.Schedule.MacroCron, cfg.Schedule.WarmCron); err != nil {
		log.Fatalf("registering jobs: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Start HTTP server.
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("marketpulse server listening", "addr", httpServer.Addr, "source", cfg.Upstream.Source)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down marketpulse server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// selectFetcher returns the chart record source named by the config and a
// function releasing it.
func selectFetcher(cfg *config.Config, upstream *source.HTTPSource, alpacaSrc *source.AlpacaSource) (source.Fetcher, func(), error) {
	noop := func() {}
	switch cfg.Upstream.Source {
	case config.SourceHTTP:
		return upstream, noop, nil
	case config.SourceSQLite:
		db, err := source.NewSQLiteSource(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return db, func() { db.Close() }, nil
	case config.SourceParquet:
		return source.NewParquetSource(cfg.Storage.ParquetDir), noop, nil
	case config.SourceAlpaca:
		if alpacaSrc == nil {
			return nil, noop, fmt.Errorf("alpaca credentials not configured")
		}
		return alpacaSrc, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown source %q", cfg.Upstream.Source)
	}
}

// loadWatchlist returns the Alpaca-backed list when enabled, otherwise the
// CSV file loaded into memory. With neither configured the list starts
// empty.
func loadWatchlist(cfg *config.Config, logger *slog.Logger) (watchlist.Store, error) {
	if cfg.Watchlist.Alpaca {
		if !cfg.Alpaca.Enabled() {
			return nil, fmt.Errorf("alpaca watchlist requires credentials")
		}
		return watchlist.NewAlpacaFromCredentials(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Watchlist.Name, logger), nil
	}
	if cfg.Watchlist.File == "" {
		return watchlist.NewMemory(), nil
	}
	reqs, err := watchlist.LoadCSV(cfg.Watchlist.File)
	if err != nil {
		return nil, err
	}
	return watchlist.NewMemory(reqs...), nil
}
