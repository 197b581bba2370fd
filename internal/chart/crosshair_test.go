package chart

import (
	"math"
	"reflect"
	"testing"

	"marketpulse/internal/market"
)

var testPlot = Rect{Left: 50, Top: 20, Right: 450, Bottom: 320}

func testModel(t *testing.T, n int) *Model {
	t.Helper()
	snap, err := Build(makeRecords(n, nil, nil), StockOptions("T", DefaultPalette(), 8))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return snap.Model
}

func TestProjectBounds(t *testing.T) {
	m := testModel(t, 5)
	g := Project(m, testPlot)

	if len(g.X) != 5 {
		t.Fatalf("X length = %d, want 5", len(g.X))
	}
	if g.X[0] != testPlot.Left || g.X[4] != testPlot.Right {
		t.Errorf("X range = [%v, %v], want [%v, %v]", g.X[0], g.X[4], testPlot.Left, testPlot.Right)
	}
	for i := 1; i < len(g.X); i++ {
		if g.X[i] <= g.X[i-1] {
			t.Errorf("X not ascending at %d", i)
		}
	}

	// Price ascends 100..104 on its own axis: first point at the bottom,
	// last at the top.
	price := g.Points[0]
	if price[0].Y != testPlot.Bottom || price[4].Y != testPlot.Top {
		t.Errorf("price Y = [%v .. %v], want [%v .. %v]", price[0].Y, price[4].Y, testPlot.Bottom, testPlot.Top)
	}
}

func TestProjectIndependentAxes(t *testing.T) {
	recs := makeRecords(3, nil, []float64{-1, 0, 1})
	snap, err := Build(recs, StockOptions("T", DefaultPalette(), 8))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g := Project(snap.Model, testPlot)

	sent := g.Points[1]
	mid := (testPlot.Top + testPlot.Bottom) / 2
	if sent[1].Y != mid {
		t.Errorf("sentiment 0 projected to %v, want %v", sent[1].Y, mid)
	}
	if sent[2].Y != testPlot.Top {
		t.Errorf("sentiment max projected to %v, want %v", sent[2].Y, testPlot.Top)
	}
}

func TestProjectSinglePointCentred(t *testing.T) {
	g := Project(testModel(t, 1), testPlot)
	want := (testPlot.Left + testPlot.Right) / 2
	if g.X[0] != want {
		t.Errorf("X[0] = %v, want %v", g.X[0], want)
	}
	if !g.Points[0][0].Valid {
		t.Error("single point should be valid")
	}
}

func TestNearestIndex(t *testing.T) {
	xs := []float64{0, 10, 20, 30}
	tests := []struct {
		x    float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{4, 0},
		{5, 0},
		{6, 1},
		{29, 3},
		{100, 3},
	}
	for _, tt := range tests {
		if got := NearestIndex(xs, tt.x); got != tt.want {
			t.Errorf("NearestIndex(%v) = %d, want %d", tt.x, got, tt.want)
		}
	}
	if got := NearestIndex(nil, 1); got != -1 {
		t.Errorf("NearestIndex(nil) = %d, want -1", got)
	}
}

func TestTrackerTransitions(t *testing.T) {
	g := Project(testModel(t, 5), testPlot)
	tr := NewTracker(g)

	if _, ok := tr.State().Index(); ok {
		t.Fatal("new tracker should be Idle")
	}

	h := tr.Move(g.X[2]+1, 100)
	if i, ok := h.Index(); !ok || i != 2 {
		t.Errorf("Move near x[2] = %v, want Hovering(2)", h)
	}

	h = tr.Move(g.X[3]-1, testPlot.Bottom)
	if i, ok := h.Index(); !ok || i != 3 {
		t.Errorf("Move near x[3] = %v, want Hovering(3)", h)
	}

	h = tr.Move(testPlot.Right+10, 100)
	if h != Idle {
		t.Errorf("Move outside plot = %v, want Idle", h)
	}

	tr.Move(g.X[1], 100)
	if h := tr.Leave(); h != Idle {
		t.Errorf("Leave = %v, want Idle", h)
	}
	if tr.State().String() != "Idle" {
		t.Errorf("State() = %v, want Idle", tr.State())
	}
}

func TestTrackerEmptyModelStaysIdle(t *testing.T) {
	tr := NewTracker(Project(testModel(t, 0), testPlot))
	if h := tr.Move(100, 100); h != Idle {
		t.Errorf("Move on empty model = %v, want Idle", h)
	}
}

func TestOverlayIdleDrawsNothing(t *testing.T) {
	m := testModel(t, 5)
	if cmds := DefaultOverlay().Draw(m, Idle, Project(m, testPlot)); len(cmds) != 0 {
		t.Errorf("Idle draw = %d commands, want 0", len(cmds))
	}
}

func TestOverlayDrawOrder(t *testing.T) {
	m := testModel(t, 5)
	g := Project(m, testPlot)
	o := DefaultOverlay()

	cmds := o.Draw(m, Hovering(2), g)
	if len(cmds) != 1+len(m.Series) {
		t.Fatalf("commands = %d, want %d", len(cmds), 1+len(m.Series))
	}

	guide := cmds[0]
	if guide.Kind != DrawLine {
		t.Fatalf("first command = %q, want line", guide.Kind)
	}
	if guide.From.X != g.X[2] || guide.To.X != g.X[2] {
		t.Errorf("guide x = %v..%v, want %v", guide.From.X, guide.To.X, g.X[2])
	}
	if guide.From.Y != testPlot.Top || guide.To.Y != testPlot.Bottom {
		t.Errorf("guide spans %v..%v, want %v..%v", guide.From.Y, guide.To.Y, testPlot.Top, testPlot.Bottom)
	}
	if !reflect.DeepEqual(guide.Dash, []float64{5, 5}) {
		t.Errorf("guide dash = %v", guide.Dash)
	}
	if guide.StrokeColor != RGBA(0, 0, 0, 0.3) || guide.StrokeWidth != 1 {
		t.Errorf("guide style = %v/%v", guide.StrokeColor, guide.StrokeWidth)
	}

	for si, c := range cmds[1:] {
		if c.Kind != DrawCircle {
			t.Errorf("cmd %d kind = %q, want circle", si+1, c.Kind)
		}
		if c.Center != g.Points[si][2] {
			t.Errorf("marker %d at %v, want %v", si, c.Center, g.Points[si][2])
		}
		if c.FillColor != m.Series[si].LineColor {
			t.Errorf("marker %d fill = %v, want %v", si, c.FillColor, m.Series[si].LineColor)
		}
		if c.StrokeColor == c.FillColor {
			t.Errorf("marker %d stroke does not contrast with fill", si)
		}
		if c.Radius != 5 {
			t.Errorf("marker %d radius = %v, want 5", si, c.Radius)
		}
	}
}

func TestOverlayIdempotent(t *testing.T) {
	m := testModel(t, 7)
	g := Project(m, testPlot)
	o := DefaultOverlay()

	a := o.Draw(m, Hovering(4), g)
	b := o.Draw(m, Hovering(4), g)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("draw not idempotent:\n%+v\n%+v", a, b)
	}

	// Mutating the returned dash must not leak into later frames.
	a[0].Dash[0] = 99
	c := o.Draw(m, Hovering(4), g)
	if !reflect.DeepEqual(b, c) {
		t.Error("draw output shares state with earlier frames")
	}
}

func TestOverlaySkipsInvalidPoints(t *testing.T) {
	recs := makeRecords(4, nil, nil)
	recs[2].Sentiment = market.Invalid("N/A")
	snap, err := Build(recs, StockOptions("T", DefaultPalette(), 8))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g := Project(snap.Model, testPlot)

	cmds := DefaultOverlay().Draw(snap.Model, Hovering(2), g)
	if len(cmds) != 2 {
		t.Fatalf("commands = %d, want guide + 1 marker", len(cmds))
	}
	if cmds[1].FillColor != ColorNavy {
		t.Errorf("remaining marker fill = %v, want price colour", cmds[1].FillColor)
	}
	if math.IsNaN(cmds[1].Center.Y) {
		t.Error("marker centre is NaN")
	}
}

func TestOverlayOutOfRangeIndex(t *testing.T) {
	m := testModel(t, 3)
	if cmds := DefaultOverlay().Draw(m, Hovering(3), Project(m, testPlot)); cmds != nil {
		t.Errorf("out-of-range draw = %v, want nil", cmds)
	}
}
