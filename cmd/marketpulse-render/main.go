// One-shot tool: fetch one instrument from the configured source, render
// its chart to PNG and optionally store the records as a local snapshot.
//
// Usage:
//
//	go run cmd/marketpulse-render/main.go -company "Apple Inc" -ticker AAPL -out aapl.png [-index 12] [-save parquet]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"marketpulse/internal/chart"
	"marketpulse/internal/config"
	"marketpulse/internal/market"
	"marketpulse/internal/render"
	"marketpulse/internal/source"
	"marketpulse/internal/util"
)

func main() {
	company := flag.String("company", "", "company name")
	ticker := flag.String("ticker", "", "ticker symbol")
	window := flag.String("window", "", "lookback window: day, week, month or year (default: config chart.window)")
	kind := flag.String("kind", "stock", "chart kind: stock or fear_greed")
	out := flag.String("out", "", "output PNG path (default: TICKER-WINDOW.png)")
	index := flag.Int("index", -1, "axis position to draw the crosshair at")
	width := flag.Int("width", render.DefaultWidth, "image width")
	height := flag.Int("height", render.DefaultHeight, "image height")
	save := flag.String("save", "", "also store the records locally: parquet or sqlite")
	flag.Parse()

	if *ticker == "" {
		fmt.Fprintln(os.Stderr, "usage: marketpulse-render -ticker SYMBOL [-company NAME] [-out FILE] [-index N] [-save parquet|sqlite]")
		os.Exit(1)
	}

	cfgPath := "config/marketpulse.yaml"
	if p := os.Getenv("MARKETPULSE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, "text")
	util.SetDefault(logger)

	palette, err := cfg.ChartPalette()
	if err != nil {
		log.Fatalf("building palette: %v", err)
	}

	if *window == "" {
		*window = cfg.Chart.Window
	}
	w, err := market.ParseWindow(*window)
	if err != nil {
		log.Fatal(err)
	}
	req := source.Request{Company: *company, Ticker: *ticker, Window: w}.Normalize()

	fetcher, err := openFetcher(cfg)
	if err != nil {
		log.Fatalf("initializing %s source: %v", cfg.Upstream.Source, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	records, err := fetcher.Fetch(ctx, req)
	if err != nil {
		log.Fatalf("fetching %s: %v", req.Key(), err)
	}
	logger.Info("fetched records", "request", req.Key(), "count", len(records))

	var opts chart.Options
	switch *kind {
	case "stock":
		opts = chart.StockOptions(req.Title(), palette, cfg.Chart.TopEvents)
	case "fear_greed":
		opts = chart.FearGreedOptions(req.Title(), palette, cfg.Chart.TopEvents)
	default:
		log.Fatalf("unknown chart kind %q", *kind)
	}
	opts.ScoreField = cfg.Chart.ScoreField

	snap, err := chart.Build(records, opts)
	if err != nil {
		log.Fatalf("building chart: %v", err)
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("%s-%s.png", req.Ticker, req.Window)
	}
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("creating %s: %v", path, err)
	}
	ropts := render.Options{Width: *width, Height: *height, Overlay: chart.DefaultOverlay()}
	if *index >= 0 && *index < snap.Model.Len() {
		ropts.Hover = chart.Hovering(*index)
	}
	if err := render.PNG(f, snap.Model, ropts); err != nil {
		f.Close()
		log.Fatalf("rendering: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("closing %s: %v", path, err)
	}
	logger.Info("wrote chart", "path", path, "points", snap.Model.Len(), "events", len(snap.Events), "ranked", len(snap.Ranked))

	if *save != "" {
		if err := saveSnapshot(ctx, cfg, *save, req, records); err != nil {
			log.Fatalf("saving snapshot: %v", err)
		}
		logger.Info("stored snapshot", "store", *save, "request", req.Key())
	}
}

func openFetcher(cfg *config.Config) (source.Fetcher, error) {
	switch cfg.Upstream.Source {
	case config.SourceHTTP:
		return source.NewHTTPSource(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, cfg.Upstream.RateLimitPerMin, nil), nil
	case config.SourceSQLite:
		return source.NewSQLiteSource(cfg.Storage.SQLitePath)
	case config.SourceParquet:
		return source.NewParquetSource(cfg.Storage.ParquetDir), nil
	case config.SourceAlpaca:
		if !cfg.Alpaca.Enabled() {
			return nil, fmt.Errorf("alpaca credentials not configured")
		}
		return source.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed, nil), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Upstream.Source)
	}
}

func saveSnapshot(ctx context.Context, cfg *config.Config, store string, req source.Request, records []market.Record) error {
	switch store {
	case config.SourceParquet:
		return source.NewParquetSource(cfg.Storage.ParquetDir).Put(req, records)
	case config.SourceSQLite:
		db, err := source.NewSQLiteSource(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Put(ctx, req, records)
	default:
		return fmt.Errorf("unknown store %q", store)
	}
}
