package macro

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/chart"
	"marketpulse/internal/market"
)

func TestMovingAverage(t *testing.T) {
	got := MovingAverage([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{math.NaN(), math.NaN(), 2, 3, 4}
	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(got[i]) {
				t.Errorf("avg[%d] = %v, want NaN", i, got[i])
			}
			continue
		}
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("avg[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMovingAverageGap(t *testing.T) {
	got := MovingAverage([]float64{1, 3, math.NaN(), 5, 7, 9}, 2)
	if got[1] != 2 {
		t.Errorf("avg[1] = %v, want 2", got[1])
	}
	if !math.IsNaN(got[2]) || !math.IsNaN(got[3]) {
		t.Errorf("gap should restart the window: %v", got)
	}
	if got[4] != 6 || got[5] != 8 {
		t.Errorf("after gap = %v, %v; want 6, 8", got[4], got[5])
	}
}

func TestDefinitionOptions(t *testing.T) {
	def, ok := Lookup(VIX)
	if !ok {
		t.Fatal("Lookup(vix) failed")
	}
	opts := def.Options()
	if len(opts.Layout.Axes) != 1 || opts.Layout.Axes[0].Title != "Value" {
		t.Fatalf("axes = %+v", opts.Layout.Axes)
	}
	for _, f := range opts.Fields {
		if f.AxisID != chart.AxisValue {
			t.Errorf("field %s on axis %q", f.Name, f.AxisID)
		}
	}
	if _, ok := Lookup("put_call"); ok {
		t.Error("Lookup(put_call) should fail")
	}
}

func indicatorRows(n int, column string, base float64) []market.Record {
	out := make([]market.Record, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = market.Record{
			Timestamp: start.AddDate(0, 0, i).Format("2006-01-02"),
			Extra:     map[string]market.Number{column: market.Num(base + float64(i))},
		}
	}
	return out
}

func TestBuildScalesAndDerives(t *testing.T) {
	def, _ := Lookup(SafeHaven)
	snap, err := def.Build(indicatorRows(3, ColumnSafeHaven, 0.01))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := snap.Model.Series[0].Values[0]; math.Abs(got-1) > 1e-9 {
		t.Errorf("scaled value = %v, want 1", got)
	}
	for _, w := range snap.Model.Series[0].PointWeight {
		if w != 0 {
			t.Fatalf("point weight = %v, want 0", w)
		}
	}

	vix, _ := Lookup(VIX)
	rows := indicatorRows(60, ColumnVIX, 10)
	snap, err = vix.Build(rows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	avg := snap.Model.Series[1].Values
	if !math.IsNaN(avg[48]) || math.IsNaN(avg[49]) {
		t.Errorf("avg[48]=%v avg[49]=%v, want NaN then value", avg[48], avg[49])
	}
	if rows[0].Extra[ColumnVIXAvg].Valid() {
		t.Error("Prepare modified input records")
	}
}

func TestPrepareKeepsUpstreamAverage(t *testing.T) {
	vix, _ := Lookup(VIX)
	rows := indicatorRows(3, ColumnVIX, 10)
	rows[1].Extra[ColumnVIXAvg] = market.Num(42)
	out := vix.Prepare(rows)
	if out[1].Field(ColumnVIXAvg).Float() != 42 || out[0].Field(ColumnVIXAvg).Valid() {
		t.Errorf("upstream average column should be used as-is")
	}
}

type stubFetcher struct {
	mu    sync.Mutex
	rows  map[string][]market.Record
	fail  map[string]error
	calls []string
}

func (s *stubFetcher) FetchIndicator(ctx context.Context, name string) ([]market.Record, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	if err := s.fail[name]; err != nil {
		return nil, err
	}
	return s.rows[name], nil
}

type stubCloses struct{ n int }

func (s stubCloses) DailyCloses(ctx context.Context, symbol string, lookback time.Duration) ([]time.Time, []float64, error) {
	times := make([]time.Time, s.n)
	closes := make([]float64, s.n)
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range times {
		times[i] = start.AddDate(0, 0, i)
		closes[i] = 400 + float64(i)
	}
	return times, closes, nil
}

func TestDashboardRefresh(t *testing.T) {
	f := &stubFetcher{
		rows: map[string][]market.Record{
			SafeHaven:   indicatorRows(5, ColumnSafeHaven, 0.02),
			VIX:         indicatorRows(5, ColumnVIX, 15),
			YieldSpread: indicatorRows(5, ColumnYieldSpread, 0.03),
		},
		fail: map[string]error{},
	}
	d := NewDashboard(f, stubCloses{n: 200}, "SPY", nil)

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(f.calls) != 4 {
		t.Errorf("fetch calls = %v, want 4", f.calls)
	}

	all := d.All()
	if len(all) != 4 || all[0].Name != MarketMomentum {
		t.Fatalf("All() = %d charts", len(all))
	}
	mom, _ := d.Get(MarketMomentum)
	if mom.Model == nil || mom.Model.Len() != 200 {
		t.Fatalf("momentum model from closes = %+v", mom)
	}
	if v := mom.Model.Series[1].Values[124]; math.IsNaN(v) {
		t.Error("125-day average should be defined at position 124")
	}
}

func TestDashboardPartialFailure(t *testing.T) {
	f := &stubFetcher{
		rows: map[string][]market.Record{
			MarketMomentum: indicatorRows(3, ColumnSP500, 400),
			SafeHaven:      indicatorRows(3, ColumnSafeHaven, 0.02),
			YieldSpread:    indicatorRows(3, ColumnYieldSpread, 0.03),
		},
		fail: map[string]error{},
	}
	d := NewDashboard(f, nil, "", nil)
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	f.fail[SafeHaven] = errors.New("upstream down")
	err := d.Refresh(context.Background())
	if err == nil || !strings.Contains(err.Error(), "safe_haven") {
		t.Fatalf("Refresh err = %v, want safe_haven failure", err)
	}
	c, _ := d.Get(SafeHaven)
	if c.Model == nil {
		t.Error("last good model should be kept")
	}
	if c.Error != "upstream down" {
		t.Errorf("Error = %q", c.Error)
	}
}
