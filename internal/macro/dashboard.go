package macro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketpulse/internal/chart"
	"marketpulse/internal/market"
)

// IndicatorFetcher loads the raw rows for one indicator by name.
type IndicatorFetcher interface {
	FetchIndicator(ctx context.Context, name string) ([]market.Record, error)
}

// CloseSource supplies daily closes; used to derive market momentum when
// the upstream has no data for it.
type CloseSource interface {
	DailyCloses(ctx context.Context, symbol string, lookback time.Duration) ([]time.Time, []float64, error)
}

// momentumLookback covers a year of display plus the 125-day warm-up.
const momentumLookback = 550 * 24 * time.Hour

// Chart is the cached result for one indicator.
type Chart struct {
	Name      string       `json:"name"`
	Title     string       `json:"title"`
	Model     *chart.Model `json:"model,omitempty"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Dashboard holds the latest chart for every indicator.
type Dashboard struct {
	fetcher IndicatorFetcher
	closes  CloseSource
	symbol  string
	log     *slog.Logger

	mu     sync.RWMutex
	charts map[string]Chart
}

// NewDashboard creates a dashboard. closes may be nil.
func NewDashboard(fetcher IndicatorFetcher, closes CloseSource, symbol string, log *slog.Logger) *Dashboard {
	if log == nil {
		log = slog.Default()
	}
	if symbol == "" {
		symbol = "SPY"
	}
	return &Dashboard{
		fetcher: fetcher,
		closes:  closes,
		symbol:  symbol,
		log:     log.With("component", "macro"),
		charts:  make(map[string]Chart),
	}
}

// Refresh fetches every indicator concurrently and replaces the cached
// charts. A failing indicator keeps its error in the cache; the joined
// errors are returned.
func (d *Dashboard) Refresh(ctx context.Context) error {
	defs := Definitions()
	results := make([]Chart, len(defs))
	errs := make([]error, len(defs))

	g, gctx := errgroup.WithContext(ctx)
	for i, def := range defs {
		i, def := i, def
		g.Go(func() error {
			snap, err := d.build(gctx, def)
			results[i] = Chart{Name: def.Name, Title: def.Title, UpdatedAt: time.Now().UTC()}
			if err != nil {
				results[i].Error = err.Error()
				errs[i] = fmt.Errorf("%s: %w", def.Name, err)
				return nil
			}
			results[i].Model = snap.Model
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	d.mu.Lock()
	for _, c := range results {
		prev, ok := d.charts[c.Name]
		// Keep the last good model when a refresh fails.
		if c.Model == nil && ok && prev.Model != nil {
			prev.Error = c.Error
			c = prev
		}
		d.charts[c.Name] = c
	}
	d.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		d.log.Warn("macro refresh incomplete", "error", err)
	} else {
		d.log.Info("macro refresh complete", "indicators", len(defs))
	}
	return err
}

func (d *Dashboard) build(ctx context.Context, def Definition) (*chart.Snapshot, error) {
	records, err := d.fetcher.FetchIndicator(ctx, def.Name)
	if err != nil && (def.Name != MarketMomentum || d.closes == nil) {
		return nil, err
	}
	if def.Name == MarketMomentum && len(records) == 0 && d.closes != nil {
		if err != nil {
			d.log.Debug("upstream momentum unavailable, using closes", "error", err)
		}
		records, err = d.momentumFromCloses(ctx)
		if err != nil {
			return nil, err
		}
	}
	return def.Build(records)
}

func (d *Dashboard) momentumFromCloses(ctx context.Context) ([]market.Record, error) {
	times, closes, err := d.closes.DailyCloses(ctx, d.symbol, momentumLookback)
	if err != nil {
		return nil, err
	}
	records := make([]market.Record, len(times))
	for i, t := range times {
		records[i] = market.Record{
			Timestamp: t.Format("2006-01-02"),
			Extra:     map[string]market.Number{ColumnSP500: market.Num(closes[i])},
		}
	}
	return records, nil
}

// Get returns the cached chart for an indicator.
func (d *Dashboard) Get(name string) (Chart, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.charts[name]
	return c, ok
}

// All returns the cached charts in display order, skipping indicators not
// yet refreshed.
func (d *Dashboard) All() []Chart {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Chart, 0, len(d.charts))
	for _, def := range definitions {
		if c, ok := d.charts[def.Name]; ok {
			out = append(out, c)
		}
	}
	return out
}
