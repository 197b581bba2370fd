package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/chart"
	"marketpulse/internal/macro"
	"marketpulse/internal/market"
	"marketpulse/internal/source"
	"marketpulse/internal/watchlist"
)

func sampleRecords() []market.Record {
	return []market.Record{
		{Timestamp: "2024-01-01", Price: market.Num(100), Sentiment: market.Num(1), FearGreed: market.Num(40)},
		{Timestamp: "2024-01-02", Price: market.Num(101), Sentiment: market.Num(-8), FearGreed: market.Num(45), Action: market.ActionPotentialExit, Title: "Exit"},
		{Timestamp: "2024-01-03", Price: market.Num(103), Sentiment: market.Num(3), FearGreed: market.Num(62), Action: market.ActionMomentumTrade, Title: "Up"},
	}
}

// countingFetcher serves records and counts calls.
type countingFetcher struct {
	calls   atomic.Int32
	records []market.Record
	err     error
}

func (f *countingFetcher) Fetch(ctx context.Context, req source.Request) ([]market.Record, error) {
	f.calls.Add(1)
	return f.records, f.err
}

func newTestServer(t *testing.T, f source.Fetcher, opts Options) *httptest.Server {
	t.Helper()
	s := NewServer(f, opts, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestChartEndpoint(t *testing.T) {
	f := &countingFetcher{records: sampleRecords()}
	ts := newTestServer(t, f, Options{CacheTTL: time.Minute})

	var resp ChartResponse
	if code := getJSON(t, ts.URL+"/api/chart/aapl?company=apple", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Request.Ticker != "AAPL" {
		t.Errorf("Ticker = %q, want %q", resp.Request.Ticker, "AAPL")
	}
	if resp.Model.Title != "APPLE (AAPL)" {
		t.Errorf("Title = %q, want %q", resp.Model.Title, "APPLE (AAPL)")
	}
	if len(resp.Model.Series) != 2 {
		t.Fatalf("series = %d, want 2", len(resp.Model.Series))
	}
	if resp.TotalEvents != 2 || len(resp.Events) != 2 {
		t.Errorf("events = %d/%d, want 2/2", len(resp.Events), resp.TotalEvents)
	}
	if resp.Events[0].Index != 1 {
		t.Errorf("top event index = %d, want 1", resp.Events[0].Index)
	}

	var top ChartResponse
	getJSON(t, ts.URL+"/api/chart/aapl?company=apple&top=1", &top)
	if len(top.Events) != 1 {
		t.Errorf("top=1 events = %d, want 1", len(top.Events))
	}
}

func TestChartCache(t *testing.T) {
	f := &countingFetcher{records: sampleRecords()}
	ts := newTestServer(t, f, Options{CacheTTL: time.Minute})

	getJSON(t, ts.URL+"/api/chart/msft", nil)
	getJSON(t, ts.URL+"/api/events/msft", nil)
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	getJSON(t, ts.URL+"/api/chart/msft?refresh=1", nil)
	if got := f.calls.Load(); got != 2 {
		t.Errorf("fetches after refresh = %d, want 2", got)
	}
	getJSON(t, ts.URL+"/api/chart/msft?kind=fear_greed", nil)
	if got := f.calls.Load(); got != 3 {
		t.Errorf("fetches for second kind = %d, want 3", got)
	}
}

func TestChartNoCache(t *testing.T) {
	f := &countingFetcher{records: sampleRecords()}
	ts := newTestServer(t, f, Options{})

	getJSON(t, ts.URL+"/api/chart/msft", nil)
	getJSON(t, ts.URL+"/api/chart/msft", nil)
	if got := f.calls.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestChartErrors(t *testing.T) {
	dup := sampleRecords()
	dup[2].Timestamp = dup[1].Timestamp

	tests := []struct {
		name     string
		fetcher  source.Fetcher
		path     string
		wantCode int
		wantKind string
	}{
		{
			name:     "fetch",
			fetcher:  &countingFetcher{err: &source.FetchError{Source: "http", Target: "x", Status: 500, Err: errors.New("boom")}},
			path:     "/api/chart/aapl",
			wantCode: http.StatusBadGateway,
			wantKind: KindFetch,
		},
		{
			name:     "data shape",
			fetcher:  &countingFetcher{records: dup},
			path:     "/api/chart/aapl",
			wantCode: http.StatusUnprocessableEntity,
			wantKind: KindDataShape,
		},
		{
			name:     "bad window",
			fetcher:  &countingFetcher{records: sampleRecords()},
			path:     "/api/chart/aapl?window=decade",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad kind",
			fetcher:  &countingFetcher{records: sampleRecords()},
			path:     "/api/chart/aapl?kind=candles",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad top",
			fetcher:  &countingFetcher{records: sampleRecords()},
			path:     "/api/chart/aapl?top=many",
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.fetcher, Options{})
			var resp ErrorResponse
			if code := getJSON(t, ts.URL+tt.path, &resp); code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if resp.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", resp.Kind, tt.wantKind)
			}
			if resp.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestCrosshairIndex(t *testing.T) {
	ts := newTestServer(t, &countingFetcher{records: sampleRecords()}, Options{})

	var resp CrosshairResponse
	if code := getJSON(t, ts.URL+"/api/chart/aapl/crosshair?index=1&width=400&height=200", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if !resp.Active || resp.Index != 1 {
		t.Fatalf("hover = %v/%d, want active 1", resp.Active, resp.Index)
	}
	if resp.Label != "2024-01-02" {
		t.Errorf("Label = %q, want %q", resp.Label, "2024-01-02")
	}
	if len(resp.Commands) != 3 || resp.Commands[0].Kind != chart.DrawLine {
		t.Fatalf("commands = %+v, want guide plus 2 markers", resp.Commands)
	}
	if resp.Commands[0].From.X != 200 {
		t.Errorf("guide x = %v, want 200", resp.Commands[0].From.X)
	}
	if len(resp.Readout) != 2 || resp.Readout[1].Value != "-8" {
		t.Errorf("readout = %+v", resp.Readout)
	}
}

func TestCrosshairPointer(t *testing.T) {
	ts := newTestServer(t, &countingFetcher{records: sampleRecords()}, Options{})

	var resp CrosshairResponse
	getJSON(t, ts.URL+"/api/chart/aapl/crosshair?x=390&y=10&width=400&height=200", &resp)
	if !resp.Active || resp.Index != 2 {
		t.Errorf("hover = %v/%d, want active 2", resp.Active, resp.Index)
	}

	var outside CrosshairResponse
	getJSON(t, ts.URL+"/api/chart/aapl/crosshair?x=500&y=10&width=400&height=200", &outside)
	if outside.Active || len(outside.Commands) != 0 {
		t.Errorf("outside = %+v, want idle", outside)
	}
}

func TestPNG(t *testing.T) {
	ts := newTestServer(t, &countingFetcher{records: sampleRecords()}, Options{})

	resp, err := http.Get(ts.URL + "/api/chart/aapl/png?index=1&width=300&height=200")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	head := make([]byte, 4)
	if _, err := io.ReadFull(resp.Body, head); err != nil || string(head[1:]) != "PNG" {
		t.Errorf("body does not start with PNG signature: %q", head)
	}
}

func TestEvents(t *testing.T) {
	ts := newTestServer(t, &countingFetcher{records: sampleRecords()}, Options{})

	var resp EventsResponse
	if code := getJSON(t, ts.URL+"/api/events/aapl", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(resp.Entries))
	}
	if resp.Entries[0].Action != market.ActionPotentialExit {
		t.Errorf("first action = %q, want %q", resp.Entries[0].Action, market.ActionPotentialExit)
	}
	if resp.Gauge == nil || resp.Gauge.Zone != "Greed" {
		t.Errorf("gauge = %+v, want Greed", resp.Gauge)
	}
}

type stubIndicators struct{}

func (stubIndicators) FetchIndicator(ctx context.Context, name string) ([]market.Record, error) {
	if name != macro.VIX {
		return nil, errors.New("unavailable")
	}
	return []market.Record{
		{Timestamp: "2024-01-01", Extra: map[string]market.Number{macro.ColumnVIX: market.Num(20), macro.ColumnVIXAvg: market.Num(18)}},
		{Timestamp: "2024-01-02", Extra: map[string]market.Number{macro.ColumnVIX: market.Num(22), macro.ColumnVIXAvg: market.Num(19)}},
	}, nil
}

func TestMacro(t *testing.T) {
	d := macro.NewDashboard(stubIndicators{}, nil, "", nil)
	d.Refresh(context.Background())
	ts := newTestServer(t, &countingFetcher{}, Options{Macro: d})

	var c macro.Chart
	if code := getJSON(t, ts.URL+"/api/macro/vix", &c); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if c.Model == nil || c.Model.Len() != 2 {
		t.Errorf("vix model = %+v, want 2 points", c.Model)
	}

	if code := getJSON(t, ts.URL+"/api/macro/unknown", nil); code != http.StatusNotFound {
		t.Errorf("unknown status = %d, want 404", code)
	}

	var all MacroResponse
	getJSON(t, ts.URL+"/api/macro", &all)
	if len(all.Indicators) != len(macro.Definitions()) {
		t.Errorf("indicators = %d, want %d", len(all.Indicators), len(macro.Definitions()))
	}
}

func TestMacroNotConfigured(t *testing.T) {
	ts := newTestServer(t, &countingFetcher{}, Options{})
	if code := getJSON(t, ts.URL+"/api/macro/vix", nil); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestSnapshotsEmpty(t *testing.T) {
	ts := newTestServer(t, &countingFetcher{}, Options{SnapshotDir: t.TempDir()})
	var resp SnapshotsResponse
	if code := getJSON(t, ts.URL+"/api/snapshots", &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Snapshots == nil || len(resp.Snapshots) != 0 {
		t.Errorf("snapshots = %v, want empty list", resp.Snapshots)
	}
}

func TestWatchlist(t *testing.T) {
	store := watchlist.NewMemory(source.Request{Ticker: "msft"})
	ts := newTestServer(t, &countingFetcher{}, Options{Watchlist: store})

	do := func(method, path string) int {
		req, _ := http.NewRequest(method, ts.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := do(http.MethodPut, "/api/watchlist/aapl?company=apple&window=week"); code != http.StatusNoContent {
		t.Errorf("PUT status = %d, want 204", code)
	}
	if code := do(http.MethodDelete, "/api/watchlist/msft"); code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", code)
	}

	var resp WatchlistResponse
	getJSON(t, ts.URL+"/api/watchlist", &resp)
	if len(resp.Instruments) != 1 {
		t.Fatalf("instruments = %+v, want 1", resp.Instruments)
	}
	got := resp.Instruments[0]
	if got.Ticker != "AAPL" || got.Company != "APPLE" || got.Window != market.WindowWeek {
		t.Errorf("instrument = %+v", got)
	}
}

func TestWatchlistNotConfigured(t *testing.T) {
	ts := newTestServer(t, &countingFetcher{}, Options{})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/watchlist/aapl", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestWarm(t *testing.T) {
	f := &countingFetcher{records: sampleRecords()}
	s := NewServer(f, Options{CacheTTL: time.Minute}, nil)
	defer s.Close()

	n := s.Warm(context.Background(), []source.Request{{Ticker: "aapl"}, {Ticker: "msft"}})
	if n != 2 {
		t.Errorf("Warm = %d, want 2", n)
	}
	if _, err := s.Snapshot(context.Background(), ChartStock, source.Request{Ticker: "AAPL"}, false); err != nil {
		t.Fatal(err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestStream(t *testing.T) {
	d := macro.NewDashboard(stubIndicators{}, nil, "", nil)
	d.Refresh(context.Background())
	s := NewServer(&countingFetcher{records: sampleRecords()}, Options{Macro: d, CacheTTL: time.Minute}, nil)
	ts := httptest.NewServer(s.Handler())
	defer func() {
		ts.Close()
		s.Close()
	}()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(ClientMessage{Type: MsgSelect, Ticker: "nvda", Window: "week"}); err != nil {
		t.Fatal(err)
	}

	var statuses []string
	for {
		var msg ViewMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != MsgView {
			continue
		}
		statuses = append(statuses, msg.Status)
		if msg.Status == "ready" {
			if msg.Seq != 1 || msg.Request.Ticker != "NVDA" {
				t.Errorf("ready = #%d %s, want #1 NVDA", msg.Seq, msg.Request.Ticker)
			}
			if msg.Chart == nil || msg.Chart.Model.Len() != 3 {
				t.Errorf("chart = %+v, want 3 points", msg.Chart)
			}
			break
		}
	}
	if statuses[0] != "loading" {
		t.Errorf("first status = %q, want loading", statuses[0])
	}

	if _, ok := s.cached(cacheKey(ChartStock, source.Request{Ticker: "nvda", Window: market.WindowWeek}.Normalize())); !ok {
		t.Error("ready view was not cached")
	}

	s.BroadcastMacro()
	for {
		var msg MacroMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read macro: %v", err)
		}
		if msg.Type == MsgMacro {
			if len(msg.Indicators) != len(macro.Definitions()) {
				t.Errorf("indicators = %d, want %d", len(msg.Indicators), len(macro.Definitions()))
			}
			break
		}
	}
}

func TestHubDropsFullClient(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	fast := &client{send: make(chan []byte, 2)}
	slow := &client{send: make(chan []byte)}
	h.add(fast)
	h.add(slow)

	h.Broadcast([]byte("a"))
	// Registration is handled by the same loop, so it returns only after
	// the broadcast has been delivered.
	h.add(&client{send: make(chan []byte, 1)})
	if got := string(<-fast.send); got != "a" {
		t.Errorf("fast got %q, want %q", got, "a")
	}
	if _, ok := <-slow.send; ok {
		t.Error("slow client should be closed")
	}

	cancel()
	<-h.Done()
	if _, ok := <-fast.send; ok {
		t.Error("clients should be closed when the hub stops")
	}
	h.Broadcast([]byte("late"))
}

func TestImageSizeLimit(t *testing.T) {
	f := &countingFetcher{records: sampleRecords()}
	ts := newTestServer(t, f, Options{})

	paths := []string{
		"/api/chart/aapl/png?width=100000&height=100000",
		"/api/chart/aapl/png?height=4097",
		"/api/chart/aapl/crosshair?index=1&width=100000",
	}
	for _, path := range paths {
		var resp ErrorResponse
		if code := getJSON(t, ts.URL+path, &resp); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, code)
		}
	}
	if got := f.calls.Load(); got != 0 {
		t.Errorf("fetches = %d, want 0", got)
	}
}

// gatedFetcher blocks until released or its context ends.
type gatedFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, req source.Request) ([]market.Record, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.release:
		return sampleRecords(), nil
	}
}

func TestSharedFetchSurvivesFirstCaller(t *testing.T) {
	f := &gatedFetcher{started: make(chan struct{}, 4), release: make(chan struct{})}
	s := NewServer(f, Options{}, nil)
	defer s.Close()
	req := source.Request{Ticker: "aapl"}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := s.Snapshot(leaderCtx, ChartStock, req, false)
		leaderErr <- err
	}()
	<-f.started

	type outcome struct {
		snap *chart.Snapshot
		err  error
	}
	follower := make(chan outcome, 1)
	go func() {
		snap, err := s.Snapshot(context.Background(), ChartStock, req, false)
		follower <- outcome{snap, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader err = %v, want context.Canceled", err)
	}
	time.Sleep(10 * time.Millisecond)
	close(f.release)

	select {
	case got := <-follower:
		if got.err != nil {
			t.Fatalf("follower err = %v, want success", got.err)
		}
		if got.snap.Model.Len() != 3 {
			t.Errorf("points = %d, want 3", got.snap.Model.Len())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not finish")
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}
