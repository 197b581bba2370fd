// Package marketpulse is a Go client for the marketpulse-server API.
package marketpulse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketpulse/internal/httpapi"
)

// Client provides a Go SDK for interacting with the marketpulse-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new marketpulse API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Query selects one chart.
type Query struct {
	Company string
	Ticker  string
	Window  string // day, week, month or year; empty means month
	Kind    string // stock or fear_greed; empty means stock
	Top     int    // leaderboard length; 0 uses the server default
	Refresh bool
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Company != "" {
		v.Set("company", q.Company)
	}
	if q.Window != "" {
		v.Set("window", q.Window)
	}
	if q.Kind != "" {
		v.Set("kind", q.Kind)
	}
	if q.Top > 0 {
		v.Set("top", strconv.Itoa(q.Top))
	}
	if q.Refresh {
		v.Set("refresh", "1")
	}
	return v
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("marketpulse: %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("marketpulse: %d: %s", e.Status, e.Message)
}

// GetChart retrieves the chart model and top events for a query.
func (c *Client) GetChart(ctx context.Context, q Query) (*httpapi.ChartResponse, error) {
	var out httpapi.ChartResponse
	if err := c.getJSON(ctx, "/api/chart/"+url.PathEscape(q.Ticker), q.values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEvents retrieves the events leaderboard for a query.
func (c *Client) GetEvents(ctx context.Context, q Query) (*httpapi.EventsResponse, error) {
	var out httpapi.EventsResponse
	if err := c.getJSON(ctx, "/api/events/"+url.PathEscape(q.Ticker), q.values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCrosshair retrieves the overlay and readout for axis position index
// on a width x height canvas.
func (c *Client) GetCrosshair(ctx context.Context, q Query, index, width, height int) (*httpapi.CrosshairResponse, error) {
	v := q.values()
	v.Set("index", strconv.Itoa(index))
	if width > 0 {
		v.Set("width", strconv.Itoa(width))
	}
	if height > 0 {
		v.Set("height", strconv.Itoa(height))
	}
	var out httpapi.CrosshairResponse
	if err := c.getJSON(ctx, "/api/chart/"+url.PathEscape(q.Ticker)+"/crosshair", v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPNG retrieves the rendered chart. A negative index renders without a
// crosshair.
func (c *Client) GetPNG(ctx context.Context, q Query, index, width, height int) ([]byte, error) {
	v := q.values()
	if index >= 0 {
		v.Set("index", strconv.Itoa(index))
	}
	if width > 0 {
		v.Set("width", strconv.Itoa(width))
	}
	if height > 0 {
		v.Set("height", strconv.Itoa(height))
	}
	resp, err := c.get(ctx, "/api/chart/"+url.PathEscape(q.Ticker)+"/png", v)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// GetMacro retrieves every loaded macro indicator.
func (c *Client) GetMacro(ctx context.Context) (*httpapi.MacroResponse, error) {
	var out httpapi.MacroResponse
	if err := c.getJSON(ctx, "/api/macro", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWatchlist retrieves the watched instruments.
func (c *Client) GetWatchlist(ctx context.Context) (*httpapi.WatchlistResponse, error) {
	var out httpapi.WatchlistResponse
	if err := c.getJSON(ctx, "/api/watchlist", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// get issues a GET and converts error replies to *APIError.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{Status: resp.StatusCode}
	var body httpapi.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return nil, apiErr
}
