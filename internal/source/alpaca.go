package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"marketpulse/internal/market"
)

var _ Fetcher = (*AlpacaSource)(nil)

// BarsClient is the subset of the Alpaca market-data client used here.
type BarsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaSource produces price-only records from Alpaca bars. Sentiment and
// the other analysis columns are absent, so the resulting charts carry no
// action events.
type AlpacaSource struct {
	client BarsClient
	feed   marketdata.Feed
	now    func() time.Time
	log    *slog.Logger
}

// NewAlpacaSource creates a source backed by the Alpaca market-data API.
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string, log *slog.Logger) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return NewAlpacaSourceWithClient(marketdata.NewClient(opts), feed, log)
}

// NewAlpacaSourceWithClient wraps an existing bars client.
func NewAlpacaSourceWithClient(c BarsClient, feed string, log *slog.Logger) *AlpacaSource {
	if log == nil {
		log = slog.Default()
	}
	return &AlpacaSource{
		client: c,
		feed:   marketdata.Feed(feed),
		now:    time.Now,
		log:    log.With("source", "alpaca"),
	}
}

// windowSpan maps a lookback window to a bar size and start offset.
func windowSpan(w market.Window) (marketdata.TimeFrame, time.Duration) {
	switch w {
	case market.WindowDay:
		return marketdata.OneHour, 24 * time.Hour
	case market.WindowWeek:
		return marketdata.OneHour, 7 * 24 * time.Hour
	case market.WindowYear:
		return marketdata.OneDay, 365 * 24 * time.Hour
	default:
		return marketdata.OneDay, 31 * 24 * time.Hour
	}
}

// Fetch returns one record per bar in the request's window, priced at the
// bar close.
func (s *AlpacaSource) Fetch(ctx context.Context, req Request) ([]market.Record, error) {
	req = req.Normalize()
	tf, span := windowSpan(req.Window)
	end := s.now()
	bars, err := s.bars(ctx, req.Ticker, tf, end.Add(-span), end)
	if err != nil {
		return nil, err
	}

	records := make([]market.Record, len(bars))
	for i, b := range bars {
		records[i] = market.Record{
			Timestamp: b.Timestamp.UTC().Format(time.RFC3339),
			Price:     market.Num(b.Close),
		}
	}
	return records, nil
}

// DailyCloses returns daily close prices for symbol over the last lookback.
func (s *AlpacaSource) DailyCloses(ctx context.Context, symbol string, lookback time.Duration) ([]time.Time, []float64, error) {
	end := s.now()
	bars, err := s.bars(ctx, strings.ToUpper(symbol), marketdata.OneDay, end.Add(-lookback), end)
	if err != nil {
		return nil, nil, err
	}
	times := make([]time.Time, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		times[i] = b.Timestamp.UTC()
		closes[i] = b.Close
	}
	return times, closes, nil
}

func (s *AlpacaSource) bars(ctx context.Context, symbol string, tf marketdata.TimeFrame, start, end time.Time) ([]marketdata.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Source: "alpaca", Target: symbol, Err: err}
	}
	bars, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
		Feed:      s.feed,
	})
	if err != nil {
		return nil, &FetchError{Source: "alpaca", Target: symbol, Err: fmt.Errorf("GetBars: %w", err)}
	}
	s.log.Debug("fetched bars", "symbol", symbol, "count", len(bars))
	return bars, nil
}
