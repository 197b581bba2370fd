package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/chart"
	"marketpulse/internal/market"
	"marketpulse/internal/source"
)

type result struct {
	records []market.Record
	err     error
}

// gatedFetcher blocks each Fetch until the test releases a result for the
// ticker.
type gatedFetcher struct {
	mu      sync.Mutex
	gates   map[string]chan result
	started chan string
}

func newGatedFetcher(tickers ...string) *gatedFetcher {
	f := &gatedFetcher{gates: make(map[string]chan result), started: make(chan string, 16)}
	for _, t := range tickers {
		f.gates[t] = make(chan result, 1)
	}
	return f
}

func (f *gatedFetcher) Fetch(ctx context.Context, req source.Request) ([]market.Record, error) {
	f.mu.Lock()
	gate := f.gates[req.Ticker]
	f.mu.Unlock()
	f.started <- req.Ticker
	r := <-gate
	return r.records, r.err
}

func (f *gatedFetcher) release(ticker string, r result) {
	f.gates[ticker] <- r
}

func records(n int, price float64) []market.Record {
	out := make([]market.Record, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = market.Record{
			Timestamp: start.AddDate(0, 0, i).Format("2006-01-02"),
			Price:     market.Num(price + float64(i)),
			Sentiment: market.Num(1),
		}
	}
	return out
}

func waitFor(t *testing.T, ch <-chan View, want Status) View {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed waiting for %s", want)
			}
			if v.Status == want {
				return v
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func newSession(f source.Fetcher) *Session {
	return New(f, StockBuilder(chart.DefaultPalette(), 0), nil)
}

func TestLastRequestWins(t *testing.T) {
	f := newGatedFetcher("AAA", "BBB")
	s := newSession(f)
	defer s.Close()
	_, views := s.Subscribe(16)

	a := s.Select(context.Background(), source.Request{Ticker: "aaa"})
	<-f.started
	b := s.Select(context.Background(), source.Request{Ticker: "bbb"})
	<-f.started

	if a.Context().Err() == nil {
		t.Error("superseded load context should be cancelled")
	}

	f.release("BBB", result{records: records(3, 200)})
	ready := waitFor(t, views, StatusReady)
	if ready.Seq != b.Seq || ready.Request.Ticker != "BBB" {
		t.Fatalf("ready view = #%d %s, want #%d BBB", ready.Seq, ready.Request.Ticker, b.Seq)
	}

	// A's late result must be discarded.
	if s.Complete(a, records(5, 100), nil) {
		t.Error("Complete(stale) = true, want false")
	}
	f.release("AAA", result{records: records(5, 100)})

	time.Sleep(20 * time.Millisecond)
	v := s.View()
	if v.Request.Ticker != "BBB" || v.Status != StatusReady {
		t.Errorf("view = %s, want ready BBB", Describe(v))
	}
	if got := v.Snapshot.Model.Series[0].Values[0]; got != 200 {
		t.Errorf("first price = %v, want 200", got)
	}
}

func TestLoadingWhileFetchHangs(t *testing.T) {
	f := newGatedFetcher("SLOW")
	s := newSession(f)
	defer s.Close()

	s.Select(context.Background(), source.Request{Ticker: "slow"})
	<-f.started

	time.Sleep(20 * time.Millisecond)
	if got := s.View().Status; got != StatusLoading {
		t.Errorf("Status = %s, want loading", got)
	}
	f.release("SLOW", result{records: records(1, 1)})
}

func TestFetchErrorState(t *testing.T) {
	fetchErr := &source.FetchError{Source: "http", Target: "x", Status: 500, Err: errors.New("boom")}
	s := newSession(source.FetcherFunc(func(ctx context.Context, req source.Request) ([]market.Record, error) {
		return nil, fetchErr
	}))

	v := s.Load(context.Background(), source.Request{Ticker: "ERR"})
	if v.Status != StatusError {
		t.Fatalf("Status = %s, want error", v.Status)
	}
	var fe *source.FetchError
	if !errors.As(v.Err, &fe) {
		t.Errorf("Err = %v, want *FetchError", v.Err)
	}
	if v.Snapshot != nil {
		t.Error("error view should carry no snapshot")
	}
}

func TestDataShapeErrorState(t *testing.T) {
	bad := records(3, 1)
	bad[2].Timestamp = bad[0].Timestamp
	s := newSession(source.FetcherFunc(func(ctx context.Context, req source.Request) ([]market.Record, error) {
		return bad, nil
	}))

	v := s.Load(context.Background(), source.Request{Ticker: "DUP"})
	var dse *chart.DataShapeError
	if v.Status != StatusError || !errors.As(v.Err, &dse) {
		t.Fatalf("view = %s, want DataShapeError", Describe(v))
	}
	if dse.Index != 2 {
		t.Errorf("Index = %d, want 2", dse.Index)
	}
}

func TestEmptyRecordsReady(t *testing.T) {
	s := newSession(source.FetcherFunc(func(ctx context.Context, req source.Request) ([]market.Record, error) {
		return []market.Record{}, nil
	}))
	v := s.Load(context.Background(), source.Request{Ticker: "NONE"})
	if v.Status != StatusReady {
		t.Fatalf("Status = %s, want ready", v.Status)
	}
	if v.Snapshot.Model.Len() != 0 || len(v.Snapshot.Events) != 0 {
		t.Errorf("snapshot = %d points %d events, want empty", v.Snapshot.Model.Len(), len(v.Snapshot.Events))
	}
}

func TestSubscribeOrder(t *testing.T) {
	s := newSession(source.FetcherFunc(func(ctx context.Context, req source.Request) ([]market.Record, error) {
		return records(2, 10), nil
	}))
	id, ch := s.Subscribe(8)

	for i := 0; i < 3; i++ {
		s.Load(context.Background(), source.Request{Ticker: fmt.Sprintf("T%d", i)})
	}
	s.Unsubscribe(id)

	var got []string
	for v := range ch {
		got = append(got, fmt.Sprintf("%d:%s", v.Seq, v.Status))
	}
	want := []string{"1:loading", "1:ready", "2:loading", "2:ready", "3:loading", "3:ready"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("views = %v, want %v", got, want)
	}
}

func TestSlowSubscriberKeepsLatest(t *testing.T) {
	f := newGatedFetcher("AAA", "BBB")
	s := newSession(f)
	defer s.Close()
	_, views := s.Subscribe(1)

	s.Select(context.Background(), source.Request{Ticker: "AAA"})
	<-f.started
	b := s.Select(context.Background(), source.Request{Ticker: "BBB"})
	<-f.started
	f.release("AAA", result{records: records(2, 100)})
	f.release("BBB", result{records: records(2, 200)})

	deadline := time.Now().Add(2 * time.Second)
	for s.View().Status != StatusReady {
		if time.Now().After(deadline) {
			t.Fatalf("session never became ready: %s", Describe(s.View()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	var last View
	for drained := false; !drained; {
		select {
		case v := <-views:
			last = v
		default:
			drained = true
		}
	}
	if last.Seq != b.Seq || last.Status != StatusReady || last.Request.Ticker != "BBB" {
		t.Errorf("last delivered view = %s, want #%d ready BBB", Describe(last), b.Seq)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusIdle, "idle"},
		{StatusLoading, "loading"},
		{StatusReady, "ready"},
		{StatusError, "error"},
		{Status(9), "status(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
