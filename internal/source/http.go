package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketpulse/internal/chart"
	"marketpulse/internal/market"
	"marketpulse/internal/util"
)

var _ Fetcher = (*HTTPSource)(nil)

// HTTPSource reads records from the upstream analysis API.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewHTTPSource creates a client for the API at baseURL. A zero timeout
// leaves requests unbounded; ratePerMin <= 0 disables throttling.
func NewHTTPSource(baseURL string, timeout time.Duration, ratePerMin int, log *slog.Logger) *HTTPSource {
	if log == nil {
		log = slog.Default()
	}
	s := &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.With("source", "http"),
	}
	if ratePerMin > 0 {
		s.limiter = util.NewRateLimiter(ratePerMin)
	}
	return s
}

// Fetch calls GET /api/analyze-market/{company}?ticker=T&time_filter=W.
func (s *HTTPSource) Fetch(ctx context.Context, req Request) ([]market.Record, error) {
	req = req.Normalize()
	q := url.Values{}
	q.Set("ticker", req.Ticker)
	q.Set("time_filter", string(req.Window))
	target := fmt.Sprintf("%s/api/analyze-market/%s?%s", s.baseURL, url.PathEscape(req.Company), q.Encode())

	records, err := s.get(ctx, target, "market_analyzed", "market analyzed")
	if err != nil {
		return nil, err
	}
	s.log.Debug("fetched records", "ticker", req.Ticker, "window", req.Window, "count", len(records))
	return records, nil
}

// FetchIndicator calls GET /api/market-sentiment/{name}; the payload is
// keyed by the indicator name.
func (s *HTTPSource) FetchIndicator(ctx context.Context, name string) ([]market.Record, error) {
	target := fmt.Sprintf("%s/api/market-sentiment/%s", s.baseURL, url.PathEscape(name))
	return s.get(ctx, target, name)
}

func (s *HTTPSource) get(ctx context.Context, target string, keys ...string) ([]market.Record, error) {
	fail := func(status int, err error) error {
		return &FetchError{Source: "http", Target: target, Status: status, Err: err}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fail(0, err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fail(0, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("reading body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fail(resp.StatusCode, errors.New(upstreamDetail(body)))
	}

	// Endpoints that have no data yet answer with a bare null.
	if string(bytes.TrimSpace(body)) == "null" {
		return []market.Record{}, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("decoding envelope: %w", err))
	}
	for _, k := range keys {
		raw, ok := envelope[k]
		if !ok {
			continue
		}
		if string(raw) == "null" {
			return []market.Record{}, nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fail(resp.StatusCode, fmt.Errorf("decoding %q: %w", k, err))
		}
		return decodeRecords(items)
	}
	return nil, fail(resp.StatusCode, fmt.Errorf("response has no %q key", keys[0]))
}

// decodeRecords decodes each element on its own so a malformed record is
// reported by position as a *chart.DataShapeError.
func decodeRecords(items []json.RawMessage) ([]market.Record, error) {
	records := make([]market.Record, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &records[i]); err != nil {
			var head struct {
				Timestamp any `json:"timestamp"`
			}
			_ = json.Unmarshal(item, &head)
			ts := ""
			if head.Timestamp != nil {
				ts = fmt.Sprint(head.Timestamp)
			}
			return nil, &chart.DataShapeError{Index: i, Timestamp: ts, Reason: err.Error()}
		}
	}
	return records, nil
}

// upstreamDetail extracts FastAPI's {"detail": ...} message when present.
func upstreamDetail(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	s := strings.TrimSpace(string(body))
	if r := []rune(s); len(r) > 200 {
		s = string(r[:200])
	}
	if s == "" {
		return "empty response"
	}
	return s
}
