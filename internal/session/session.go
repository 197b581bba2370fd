// Package session owns the chart shown for one viewer: it issues fetches,
// applies only the most recent one, and publishes Loading/Ready/Error
// transitions to subscribers.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"marketpulse/internal/chart"
	"marketpulse/internal/market"
	"marketpulse/internal/source"
)

// Status is the lifecycle state of the current view.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// View is an immutable value describing what the viewer should display.
type View struct {
	Seq      uint64
	Status   Status
	Request  source.Request
	Snapshot *chart.Snapshot // set when Status is StatusReady
	Err      error           // set when Status is StatusError
}

// Builder turns fetched records into a chart snapshot for a request.
type Builder func(req source.Request, records []market.Record) (*chart.Snapshot, error)

// StockBuilder returns a Builder producing the price/sentiment chart.
func StockBuilder(palette chart.Palette, topK int) Builder {
	return func(req source.Request, records []market.Record) (*chart.Snapshot, error) {
		return chart.Build(records, chart.StockOptions(req.Title(), palette, topK))
	}
}

// Session applies fetch results with last-request-wins semantics. It is
// safe for concurrent use.
type Session struct {
	fetcher source.Fetcher
	build   Builder
	log     *slog.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	view   View

	subsMu    sync.Mutex
	subs      map[int]chan View
	nextSubID int
}

// New creates an idle session.
func New(fetcher source.Fetcher, build Builder, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		fetcher: fetcher,
		build:   build,
		log:     log.With("component", "session"),
		subs:    make(map[int]chan View),
	}
}

// View returns the current view.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Ticket identifies one issued load.
type Ticket struct {
	Seq     uint64
	Request source.Request
	ctx     context.Context
}

// Context is cancelled when a newer load supersedes this one.
func (t Ticket) Context() context.Context { return t.ctx }

// Begin issues a new load for req, supersedes any load in flight and moves
// the session to Loading.
func (s *Session) Begin(ctx context.Context, req source.Request) Ticket {
	req = req.Normalize()
	fetchCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	s.cancel = cancel
	t := Ticket{Seq: s.seq, Request: req, ctx: fetchCtx}
	s.view = View{Seq: t.Seq, Status: StatusLoading, Request: req}
	s.publish(s.view)
	s.mu.Unlock()

	return t
}

// Complete applies the outcome of the load identified by t. Outcomes of
// superseded loads are discarded and Complete returns false.
func (s *Session) Complete(t Ticket, records []market.Record, fetchErr error) bool {
	var next View
	if fetchErr != nil {
		next = View{Seq: t.Seq, Status: StatusError, Request: t.Request, Err: fetchErr}
	} else if snap, err := s.build(t.Request, records); err != nil {
		next = View{Seq: t.Seq, Status: StatusError, Request: t.Request, Err: err}
	} else {
		next = View{Seq: t.Seq, Status: StatusReady, Request: t.Request, Snapshot: snap}
	}

	s.mu.Lock()
	if current := s.seq; t.Seq != current {
		s.mu.Unlock()
		s.log.Debug("dropping stale result", "seq", t.Seq, "current", current, "ticker", t.Request.Ticker)
		return false
	}
	s.view = next
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.publish(next)
	s.mu.Unlock()

	if next.Status == StatusError {
		s.log.Warn("load failed", "ticker", t.Request.Ticker, "error", next.Err)
	}
	return true
}

// Load runs one fetch to completion and returns the resulting view. When a
// newer load supersedes it, Load returns the session's view at that time.
// No timeout is applied: a fetch that never returns leaves the session in
// Loading until ctx is cancelled or a newer load begins.
func (s *Session) Load(ctx context.Context, req source.Request) View {
	t := s.Begin(ctx, req)
	records, err := s.fetcher.Fetch(t.Context(), t.Request)
	s.Complete(t, records, err)
	return s.View()
}

// Select starts a load in the background and returns its ticket.
func (s *Session) Select(ctx context.Context, req source.Request) Ticket {
	t := s.Begin(ctx, req)
	go func() {
		records, err := s.fetcher.Fetch(t.Context(), t.Request)
		s.Complete(t, records, err)
	}()
	return t
}

// Close cancels any load in flight and closes all subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.subsMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// Subscribe creates a channel receiving view transitions. A subscriber
// that falls bufSize views behind loses the oldest ones, never the latest.
func (s *Session) Subscribe(bufSize int) (id int, ch <-chan View) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id = s.nextSubID
	s.nextSubID++
	if bufSize < 1 {
		bufSize = 1
	}
	c := make(chan View, bufSize)
	s.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Session) Unsubscribe(id int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// publish must be called with s.mu held so subscribers observe views in
// sequence order.
func (s *Session) publish(v View) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		offer(ch, v)
	}
}

// offer sends v without blocking. A full channel loses its oldest view so
// the latest transition is always the last one delivered.
func offer(ch chan View, v View) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Describe renders a one-line summary of a view for logs and consoles.
func Describe(v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %s", v.Seq, v.Status, v.Request.Ticker)
	switch v.Status {
	case StatusReady:
		fmt.Fprintf(&b, " points=%d events=%d", v.Snapshot.Model.Len(), len(v.Snapshot.Events))
	case StatusError:
		fmt.Fprintf(&b, " error=%v", v.Err)
	}
	return b.String()
}
