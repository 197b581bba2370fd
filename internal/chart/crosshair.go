package chart

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Pixel geometry
// ---------------------------------------------------------------------------

// Rect is a plot area in pixel space. Y grows downwards.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

func (r Rect) Width() float64  { return r.Right - r.Left }
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Point is a projected data point. Valid is false for NaN values.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Valid bool    `json:"-"`
}

// Range is a closed numeric interval used to scale an axis.
type Range struct {
	Min float64
	Max float64
}

// Span returns Max - Min.
func (r Range) Span() float64 { return r.Max - r.Min }

// Normalize maps v into [0,1] over the range.
func (r Range) Normalize(v float64) float64 {
	if r.Span() == 0 {
		return 0.5
	}
	return (v - r.Min) / r.Span()
}

// ValueRange returns the extent of the finite values across all inputs,
// padded when the extent is empty or a single value.
func ValueRange(series ...[]float64) Range {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, vals := range series {
		for _, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return Range{Min: 0, Max: 1}
	}
	if lo == hi {
		pad := math.Abs(lo) * 0.05
		if pad == 0 {
			pad = 1
		}
		return Range{Min: lo - pad, Max: hi + pad}
	}
	return Range{Min: lo, Max: hi}
}

// TimeRange returns the extent of an ascending time axis in Unix
// nanoseconds. A single instant is padded by half a day each side.
func TimeRange(times []time.Time) Range {
	if len(times) == 0 {
		return Range{Min: 0, Max: 1}
	}
	lo := float64(times[0].UnixNano())
	hi := float64(times[len(times)-1].UnixNano())
	if lo == hi {
		pad := float64(12 * time.Hour)
		return Range{Min: lo - pad, Max: hi + pad}
	}
	return Range{Min: lo, Max: hi}
}

// AxisRanges computes one independent y-range per declared axis from the
// series bound to it.
func AxisRanges(m *Model) map[string]Range {
	byAxis := make(map[string][][]float64, len(m.Axes))
	for _, s := range m.Series {
		byAxis[s.AxisID] = append(byAxis[s.AxisID], s.Values)
	}
	out := make(map[string]Range, len(m.Axes))
	for _, a := range m.Axes {
		out[a.ID] = ValueRange(byAxis[a.ID]...)
	}
	return out
}

// Geometry is a model projected into a plot rectangle: x per axis position
// and one point per (series, position).
type Geometry struct {
	Plot   Rect
	X      []float64
	Points [][]Point
}

// Project maps every point of m into plot. X is time-scaled; each y-axis
// is scaled independently.
func Project(m *Model, plot Rect) Geometry {
	times := m.Times()
	tr := TimeRange(times)
	g := Geometry{
		Plot:   plot,
		X:      make([]float64, len(times)),
		Points: make([][]Point, len(m.Series)),
	}
	for i, t := range times {
		g.X[i] = plot.Left + tr.Normalize(float64(t.UnixNano()))*plot.Width()
	}

	ranges := AxisRanges(m)
	for si, s := range m.Series {
		yr := ranges[s.AxisID]
		pts := make([]Point, len(s.Values))
		for i, v := range s.Values {
			if i >= len(g.X) {
				break
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				pts[i] = Point{X: g.X[i]}
				continue
			}
			pts[i] = Point{
				X:     g.X[i],
				Y:     plot.Bottom - yr.Normalize(v)*plot.Height(),
				Valid: true,
			}
		}
		g.Points[si] = pts
	}
	return g
}

// NearestIndex returns the position in the ascending xs closest to x, or
// -1 when xs is empty. Ties resolve to the earlier position.
func NearestIndex(xs []float64, x float64) int {
	if len(xs) == 0 {
		return -1
	}
	i := sort.SearchFloat64s(xs, x)
	if i == 0 {
		return 0
	}
	if i == len(xs) {
		return len(xs) - 1
	}
	if x-xs[i-1] <= xs[i]-x {
		return i - 1
	}
	return i
}

// ---------------------------------------------------------------------------
// Hover state
// ---------------------------------------------------------------------------

// HoverState is either Idle or Hovering over one axis position.
type HoverState struct {
	index  int
	active bool
}

// Idle is the state with no highlighted position.
var Idle = HoverState{}

// Hovering returns the state highlighting axis position i.
func Hovering(i int) HoverState {
	return HoverState{index: i, active: true}
}

// Index returns the highlighted position and whether the state is Hovering.
func (h HoverState) Index() (int, bool) { return h.index, h.active }

func (h HoverState) String() string {
	if !h.active {
		return "Idle"
	}
	return fmt.Sprintf("Hovering(%d)", h.index)
}

// Tracker turns pointer events into hover states using index-mode
// resolution: the nearest axis position across all series, regardless of
// the pointer's vertical position inside the plot.
type Tracker struct {
	geom  Geometry
	state HoverState
}

// NewTracker returns an Idle tracker over g.
func NewTracker(g Geometry) *Tracker {
	return &Tracker{geom: g}
}

// Move handles a pointer movement. Positions outside the plot area leave
// the tracker Idle.
func (t *Tracker) Move(x, y float64) HoverState {
	p := t.geom.Plot
	if x < p.Left || x > p.Right || y < p.Top || y > p.Bottom {
		t.state = Idle
		return t.state
	}
	i := NearestIndex(t.geom.X, x)
	if i < 0 {
		t.state = Idle
		return t.state
	}
	t.state = Hovering(i)
	return t.state
}

// Leave handles the pointer leaving the chart.
func (t *Tracker) Leave() HoverState {
	t.state = Idle
	return t.state
}

// State returns the current hover state.
func (t *Tracker) State() HoverState { return t.state }

// ---------------------------------------------------------------------------
// Overlay
// ---------------------------------------------------------------------------

// DrawKind is the primitive a DrawCommand paints.
type DrawKind string

const (
	DrawLine   DrawKind = "line"
	DrawCircle DrawKind = "circle"
)

// DrawCommand is one primitive in pixel space. Lines use From/To; circles
// use Center and Radius.
type DrawCommand struct {
	Kind        DrawKind  `json:"kind"`
	From        Point     `json:"from"`
	To          Point     `json:"to"`
	Center      Point     `json:"center"`
	Radius      float64   `json:"radius,omitempty"`
	StrokeColor Color     `json:"strokeColor"`
	StrokeWidth float64   `json:"strokeWidth"`
	FillColor   Color     `json:"fillColor"`
	Dash        []float64 `json:"dash,omitempty"`
}

// Overlay draws the crosshair: a dashed vertical guide through the hovered
// position and a marker on every series at that position.
type Overlay struct {
	GuideColor        Color
	GuideWidth        float64
	GuideDash         []float64
	MarkerRadius      float64
	MarkerStrokeWidth float64
}

// DefaultOverlay returns a translucent 1px guide dashed 5/5 and 5px
// markers.
func DefaultOverlay() Overlay {
	return Overlay{
		GuideColor:        RGBA(0, 0, 0, 0.3),
		GuideWidth:        1,
		GuideDash:         []float64{5, 5},
		MarkerRadius:      5,
		MarkerStrokeWidth: 2,
	}
}

// Draw returns the overlay's primitives for one frame. It depends only on
// its arguments: the guide line first, then markers in series order.
// Series with no value at the hovered position get no marker.
func (o Overlay) Draw(m *Model, h HoverState, g Geometry) []DrawCommand {
	i, ok := h.Index()
	if !ok || i < 0 || i >= len(g.X) || i >= m.Len() {
		return nil
	}

	x := g.X[i]
	cmds := make([]DrawCommand, 0, 1+len(m.Series))
	cmds = append(cmds, DrawCommand{
		Kind:        DrawLine,
		From:        Point{X: x, Y: g.Plot.Top, Valid: true},
		To:          Point{X: x, Y: g.Plot.Bottom, Valid: true},
		StrokeColor: o.GuideColor,
		StrokeWidth: o.GuideWidth,
		Dash:        append([]float64(nil), o.GuideDash...),
	})

	for si, s := range m.Series {
		if si >= len(g.Points) || i >= len(g.Points[si]) {
			continue
		}
		p := g.Points[si][i]
		if !p.Valid {
			continue
		}
		cmds = append(cmds, DrawCommand{
			Kind:        DrawCircle,
			Center:      p,
			Radius:      o.MarkerRadius,
			StrokeColor: s.LineColor.Contrast(),
			StrokeWidth: o.MarkerStrokeWidth,
			FillColor:   s.LineColor,
		})
	}
	return cmds
}
