// Package source defines where time-series records come from: the upstream
// sentiment API, local SQLite and Parquet snapshots, and Alpaca market data.
package source

import (
	"context"
	"fmt"
	"strings"

	"marketpulse/internal/market"
)

// Request names one instrument and lookback window.
type Request struct {
	Company string        `json:"company"`
	Ticker  string        `json:"ticker"`
	Window  market.Window `json:"window"`
}

// Normalize upper-cases the ticker and company, fills the default window
// and uses the ticker as company name when none is given.
func (r Request) Normalize() Request {
	r.Ticker = strings.ToUpper(strings.TrimSpace(r.Ticker))
	r.Company = strings.ToUpper(strings.TrimSpace(r.Company))
	if r.Company == "" {
		r.Company = r.Ticker
	}
	if r.Window == "" {
		r.Window = market.DefaultWindow
	}
	return r
}

// Title is the chart heading for the request.
func (r Request) Title() string {
	if r.Company == "" || strings.EqualFold(r.Company, r.Ticker) {
		return r.Ticker
	}
	return fmt.Sprintf("%s (%s)", r.Company, r.Ticker)
}

// Key identifies the request for caching.
func (r Request) Key() string {
	return r.Ticker + ":" + string(r.Window)
}

// Fetcher returns the ordered record sequence for one request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]market.Record, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) ([]market.Record, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) ([]market.Record, error) {
	return f(ctx, req)
}

// FetchError is a transport or upstream failure. Callers surface it to the
// viewer; it is never retried automatically.
type FetchError struct {
	Source string
	Target string
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s %s: status %d: %v", e.Source, e.Target, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Source, e.Target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
