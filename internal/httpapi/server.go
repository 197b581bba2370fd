package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"marketpulse/internal/chart"
	"marketpulse/internal/dashboard"
	"marketpulse/internal/macro"
	"marketpulse/internal/market"
	"marketpulse/internal/render"
	"marketpulse/internal/session"
	"marketpulse/internal/source"
	"marketpulse/internal/watchlist"
)

// Chart kinds accepted by the kind query parameter.
const (
	ChartStock     = "stock"
	ChartFearGreed = "fear_greed"
)

// Options configures a Server. Zero values fall back to defaults; a nil
// Macro or Watchlist disables those endpoints.
type Options struct {
	Palette     chart.Palette
	TopK        int
	ScoreField  string
	Macro       *macro.Dashboard
	Watchlist   watchlist.Store
	SnapshotDir string
	CacheTTL    time.Duration
	// FetchTimeout bounds a shared fetch, which outlives the request that
	// started it. Zero selects DefaultFetchTimeout.
	FetchTimeout time.Duration
}

// DefaultFetchTimeout bounds shared fetches when Options leaves it unset.
const DefaultFetchTimeout = time.Minute

// Server serves the chart API.
type Server struct {
	fetcher source.Fetcher
	opts    Options
	log     *slog.Logger
	now     func() time.Time

	// Built snapshots keyed by cacheKey.
	cache sync.Map
	group singleflight.Group

	hub      *Hub
	stopHub  context.CancelFunc
	upgrader websocket.Upgrader
}

type cacheEntry struct {
	snap *chart.Snapshot
	at   time.Time
}

// NewServer creates a Server and starts its stream hub. Call Close to stop
// the hub.
func NewServer(fetcher source.Fetcher, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = chart.DefaultTopK
	}
	if len(opts.Palette.Styles) == 0 {
		opts.Palette = chart.DefaultPalette()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		fetcher: fetcher,
		opts:    opts,
		log:     log.With("component", "httpapi"),
		now:     time.Now,
		hub:     NewHub(),
		stopHub: cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	go s.hub.Run(ctx)
	return s
}

// Close stops the stream hub and disconnects every stream client.
func (s *Server) Close() {
	s.stopHub()
	<-s.hub.Done()
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chart/{ticker}", s.handleChart)
	mux.HandleFunc("GET /api/chart/{ticker}/crosshair", s.handleCrosshair)
	mux.HandleFunc("GET /api/chart/{ticker}/png", s.handlePNG)
	mux.HandleFunc("GET /api/events/{ticker}", s.handleEvents)
	mux.HandleFunc("GET /api/macro", s.handleMacro)
	mux.HandleFunc("GET /api/macro/{indicator}", s.handleMacroIndicator)
	mux.HandleFunc("GET /api/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist/{ticker}", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{ticker}", s.handleRemoveWatchlist)
	mux.HandleFunc("GET /api/stream", s.handleStream)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorResponse(w, status, ErrorResponse{Error: msg})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// classify maps a pipeline error to an HTTP status and error kind.
func classify(err error) (int, string) {
	var fetchErr *source.FetchError
	var shapeErr *chart.DataShapeError
	var axisErr *chart.AxisMismatchError
	switch {
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway, KindFetch
	case errors.As(err, &shapeErr):
		return http.StatusUnprocessableEntity, KindDataShape
	case errors.As(err, &axisErr):
		return http.StatusInternalServerError, KindAxisMismatch
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

func errorResponse(err error) ErrorResponse {
	_, kind := classify(err)
	return ErrorResponse{Error: err.Error(), Kind: kind}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	s.log.Warn("request failed", "kind", kind, "error", err)
	writeErrorResponse(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

// ---------------------------------------------------------------------------
// Request parsing
// ---------------------------------------------------------------------------

// parseRequest reads the instrument from the ticker path value and the
// company and window query parameters.
func parseRequest(r *http.Request) (source.Request, error) {
	q := r.URL.Query()
	window, err := market.ParseWindow(q.Get("window"))
	if err != nil {
		return source.Request{}, err
	}
	req := source.Request{
		Company: q.Get("company"),
		Ticker:  r.PathValue("ticker"),
		Window:  window,
	}.Normalize()
	if req.Ticker == "" {
		return source.Request{}, errors.New("missing ticker")
	}
	return req, nil
}

func parseKind(r *http.Request) (string, error) {
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", ChartStock:
		return ChartStock, nil
	case ChartFearGreed:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown chart kind %q", kind)
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

// queryDimension reads an image width or height, rejecting sizes the
// renderer would clamp.
func queryDimension(r *http.Request, name string, def int) (int, error) {
	n, err := queryInt(r, name, def)
	if err != nil {
		return 0, err
	}
	if n > render.MaxDimension {
		return 0, fmt.Errorf("%s %d exceeds %d", name, n, render.MaxDimension)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return f, nil
}

// loadSnapshot parses the instrument and kind, then returns the cached or
// freshly built snapshot. On failure it writes the error response and
// returns ok=false.
func (s *Server) loadSnapshot(w http.ResponseWriter, r *http.Request) (source.Request, *chart.Snapshot, bool) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, nil, false
	}
	kind, err := parseKind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, nil, false
	}
	snap, err := s.Snapshot(r.Context(), kind, req, r.URL.Query().Get("refresh") != "")
	if err != nil {
		s.writeFailure(w, err)
		return req, nil, false
	}
	return req, snap, true
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func cacheKey(kind string, req source.Request) string {
	return kind + "|" + req.Company + "|" + req.Key()
}

func (s *Server) chartOptions(kind string, req source.Request) chart.Options {
	var opts chart.Options
	if kind == ChartFearGreed {
		opts = chart.FearGreedOptions(req.Title(), s.opts.Palette, s.opts.TopK)
	} else {
		opts = chart.StockOptions(req.Title(), s.opts.Palette, s.opts.TopK)
	}
	opts.ScoreField = s.opts.ScoreField
	return opts
}

// builder returns the session builder for a chart kind.
func (s *Server) builder(kind string) session.Builder {
	return func(req source.Request, records []market.Record) (*chart.Snapshot, error) {
		return chart.Build(records, s.chartOptions(kind, req))
	}
}

func (s *Server) cached(key string) (*chart.Snapshot, bool) {
	if s.opts.CacheTTL <= 0 {
		return nil, false
	}
	v, ok := s.cache.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(cacheEntry)
	if s.now().Sub(e.at) > s.opts.CacheTTL {
		s.cache.Delete(key)
		return nil, false
	}
	return e.snap, true
}

func (s *Server) store(key string, snap *chart.Snapshot) {
	if s.opts.CacheTTL <= 0 {
		return
	}
	s.cache.Store(key, cacheEntry{snap: snap, at: s.now()})
}

// Snapshot returns the chart snapshot for req, from the cache unless
// refresh is set. Concurrent requests for the same chart share one fetch.
func (s *Server) Snapshot(ctx context.Context, kind string, req source.Request, refresh bool) (*chart.Snapshot, error) {
	req = req.Normalize()
	key := cacheKey(kind, req)
	if !refresh {
		if snap, ok := s.cached(key); ok {
			return snap, nil
		}
	}
	ch := s.group.DoChan(key, func() (any, error) {
		// Detached from the first caller so its disconnect does not fail
		// the others waiting on the same key.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FetchTimeout)
		defer cancel()
		records, err := s.fetcher.Fetch(fetchCtx, req)
		if err != nil {
			return nil, err
		}
		snap, err := s.builder(kind)(req, records)
		if err != nil {
			return nil, err
		}
		s.store(key, snap)
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*chart.Snapshot), nil
	}
}

// Warm builds and caches the stock chart for every request. Failures are
// logged and counted; the number of charts built is returned.
func (s *Server) Warm(ctx context.Context, reqs []source.Request) int {
	built := 0
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Snapshot(ctx, ChartStock, req, true); err != nil {
			s.log.Warn("warm chart failed", "ticker", req.Ticker, "error", err)
			continue
		}
		built++
	}
	s.log.Info("warmed charts", "built", built, "requested", len(reqs))
	return built
}

// withTop returns snap with its ranking recomputed for top when top
// differs from the configured length.
func (s *Server) withTop(snap *chart.Snapshot, top int) *chart.Snapshot {
	if top == s.opts.TopK {
		return snap
	}
	cp := *snap
	cp.Ranked = chart.Rank(snap.Events, top)
	return &cp
}

func chartResponse(req source.Request, snap *chart.Snapshot) *ChartResponse {
	events := snap.Ranked
	if events == nil {
		events = []chart.Event{}
	}
	return &ChartResponse{
		Request:     req,
		Model:       snap.Model,
		Events:      events,
		TotalEvents: len(snap.Events),
	}
}

// ---------------------------------------------------------------------------
// Chart handlers
// ---------------------------------------------------------------------------

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	top, err := queryInt(r, "top", s.opts.TopK)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, chartResponse(req, s.withTop(snap, top)))
}

// plotFromQuery reads the viewer's plot rectangle. It defaults to the
// whole canvas of the given size.
func plotFromQuery(r *http.Request) (chart.Rect, error) {
	w, err := queryDimension(r, "width", render.DefaultWidth)
	if err != nil {
		return chart.Rect{}, err
	}
	h, err := queryDimension(r, "height", render.DefaultHeight)
	if err != nil {
		return chart.Rect{}, err
	}
	width, height := float64(w), float64(h)
	var rect chart.Rect
	fields := []struct {
		name string
		def  float64
		dst  *float64
	}{
		{"left", 0, &rect.Left},
		{"top", 0, &rect.Top},
		{"right", width, &rect.Right},
		{"bottom", height, &rect.Bottom},
	}
	for _, f := range fields {
		if *f.dst, err = queryFloat(r, f.name, f.def); err != nil {
			return chart.Rect{}, err
		}
	}
	if rect.Width() <= 0 || rect.Height() <= 0 {
		return chart.Rect{}, errors.New("empty plot area")
	}
	return rect, nil
}

// hoverFromQuery resolves the hover state from an explicit index, or from
// a pointer position x,y inside plot.
func hoverFromQuery(r *http.Request, g chart.Geometry) (chart.HoverState, error) {
	q := r.URL.Query()
	if q.Get("index") != "" {
		i, err := queryInt(r, "index", -1)
		if err != nil {
			return chart.Idle, err
		}
		if i < 0 || i >= len(g.X) {
			return chart.Idle, nil
		}
		return chart.Hovering(i), nil
	}
	if q.Get("x") == "" || q.Get("y") == "" {
		return chart.Idle, nil
	}
	x, err := queryFloat(r, "x", 0)
	if err != nil {
		return chart.Idle, err
	}
	y, err := queryFloat(r, "y", 0)
	if err != nil {
		return chart.Idle, err
	}
	return chart.NewTracker(g).Move(x, y), nil
}

func (s *Server) handleCrosshair(w http.ResponseWriter, r *http.Request) {
	plot, err := plotFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}

	g := chart.Project(snap.Model, plot)
	hover, err := hoverFromQuery(r, g)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := CrosshairResponse{
		Index:    -1,
		Plot:     plot,
		Commands: []chart.DrawCommand{},
		Readout:  []chart.Reading{},
	}
	if i, active := hover.Index(); active {
		resp.Index = i
		resp.Active = true
		resp.Label = snap.Model.Timestamps[i]
		resp.Commands = chart.DefaultOverlay().Draw(snap.Model, hover, g)
		resp.Readout = snap.Readout(i)
	}
	writeJSON(w, resp)
}

func (s *Server) handlePNG(w http.ResponseWriter, r *http.Request) {
	width, err := queryDimension(r, "width", render.DefaultWidth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	height, err := queryDimension(r, "height", render.DefaultHeight)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := queryInt(r, "index", -1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}

	opts := render.Options{Width: width, Height: height, Overlay: chart.DefaultOverlay()}
	if index >= 0 && index < snap.Model.Len() {
		opts.Hover = chart.Hovering(index)
	}
	var buf bytes.Buffer
	if err := render.PNG(&buf, snap.Model, opts); err != nil {
		s.writeFailure(w, fmt.Errorf("render png: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	top, err := queryInt(r, "top", s.opts.TopK)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, EventsResponse{
		Request:     req,
		Leaderboard: dashboard.BuildLeaderboard(s.withTop(snap, top), s.opts.Palette),
	})
}

// ---------------------------------------------------------------------------
// Macro, snapshots and watchlist
// ---------------------------------------------------------------------------

func (s *Server) handleMacro(w http.ResponseWriter, r *http.Request) {
	if s.opts.Macro == nil {
		writeError(w, http.StatusServiceUnavailable, "macro indicators not configured")
		return
	}
	writeJSON(w, MacroResponse{Indicators: s.opts.Macro.All()})
}

func (s *Server) handleMacroIndicator(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(r.PathValue("indicator"))
	if _, ok := macro.Lookup(name); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown indicator %q", name))
		return
	}
	if s.opts.Macro == nil {
		writeError(w, http.StatusServiceUnavailable, "macro indicators not configured")
		return
	}
	c, ok := s.opts.Macro.Get(name)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("indicator %s not loaded yet", name))
		return
	}
	writeJSON(w, c)
}

// BroadcastMacro sends the current macro indicators to every stream client.
func (s *Server) BroadcastMacro() {
	if s.opts.Macro == nil {
		return
	}
	data, err := json.Marshal(MacroMessage{Type: MsgMacro, Indicators: s.opts.Macro.All()})
	if err != nil {
		s.log.Error("encoding macro message", "error", err)
		return
	}
	s.hub.Broadcast(data)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	resp := SnapshotsResponse{Snapshots: []dashboard.SnapshotInfo{}}
	if s.opts.SnapshotDir != "" {
		infos, err := dashboard.ListSnapshots(s.opts.SnapshotDir)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("listing snapshots: %v", err))
			return
		}
		resp.Snapshots = append(resp.Snapshots, infos...)
	}
	writeJSON(w, resp)
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.opts.Watchlist == nil {
		writeJSON(w, WatchlistResponse{Instruments: []source.Request{}})
		return
	}
	reqs, err := s.opts.Watchlist.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get watchlist")
		return
	}
	if reqs == nil {
		reqs = []source.Request{}
	}
	writeJSON(w, WatchlistResponse{Instruments: reqs})
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.opts.Watchlist == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist not configured")
		return
	}
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.opts.Watchlist.Add(r.Context(), req); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to add %s: %v", req.Ticker, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.opts.Watchlist == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist not configured")
		return
	}
	ticker := strings.ToUpper(r.PathValue("ticker"))
	if err := s.opts.Watchlist.Remove(r.Context(), ticker); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to remove %s: %v", ticker, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
