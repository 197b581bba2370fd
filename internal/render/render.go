// Package render draws chart models to PNG with go-chart, including the
// event markers and an optional crosshair.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"marketpulse/internal/chart"
)

// Default image size.
const (
	DefaultWidth  = 1200
	DefaultHeight = 600
)

// MaxDimension is the largest width or height rendered; larger sizes are
// clamped to it.
const MaxDimension = 4096

// Options controls a render.
type Options struct {
	Width   int
	Height  int
	Hover   chart.HoverState
	Overlay chart.Overlay
}

func (o Options) size() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	return min(w, MaxDimension), min(h, MaxDimension)
}

// PNG writes the model as a PNG image. A model with no drawable values
// produces a blank image of the requested size.
func PNG(w io.Writer, m *chart.Model, opts Options) error {
	width, height := opts.size()
	c, ok := Build(m, opts)
	if !ok {
		return blank(w, width, height)
	}
	var buf bytes.Buffer
	if err := c.Render(gochart.PNG, &buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Build converts a model into a go-chart Chart. It reports false when no
// series has a finite value.
func Build(m *chart.Model, opts Options) (gochart.Chart, bool) {
	width, height := opts.size()
	c := gochart.Chart{
		Title:  m.Title,
		Width:  width,
		Height: height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
	}

	times := m.Times()
	tr := chart.TimeRange(times)
	c.XAxis = gochart.XAxis{
		Name:           m.XAxis.Title,
		ValueFormatter: gochart.TimeValueFormatterWithFormat(m.XAxis.Format),
		Range:          &gochart.ContinuousRange{Min: tr.Min, Max: tr.Max},
	}

	sides := assignSides(m)
	ranges := chart.AxisRanges(m)
	if a, ok := sides.primary(); ok {
		c.YAxis = yAxis(a, ranges[a.ID])
	} else {
		c.YAxis.Style.Hidden = true
	}
	if a, ok := sides.secondary(); ok {
		c.YAxisSecondary = yAxis(a, ranges[a.ID])
	} else {
		c.YAxisSecondary.Style.Hidden = true
	}

	for _, s := range m.Series {
		target, axisType := sides.target(s.AxisID)
		c.Series = append(c.Series, lineSeries(s, times, ranges[s.AxisID], ranges[target], axisType)...)
	}
	if len(c.Series) == 0 {
		return c, false
	}

	if len(m.Legend) > 0 {
		c.Elements = append(c.Elements, legend(m.Legend))
	}
	if _, active := opts.Hover.Index(); active {
		c.Elements = append(c.Elements, crosshair(m, opts.Hover, opts.Overlay))
	}
	return c, true
}

// ---------------------------------------------------------------------------
// Axes
// ---------------------------------------------------------------------------

// axisSides maps every declared axis onto go-chart's two y-axes by
// position. The first axis on each side owns the ticks; further axes on
// the same side are rescaled into its range.
type axisSides struct {
	left, right []chart.Axis
}

func assignSides(m *chart.Model) axisSides {
	var s axisSides
	for _, a := range m.Axes {
		if a.Position == chart.PositionRight {
			s.right = append(s.right, a)
		} else {
			s.left = append(s.left, a)
		}
	}
	// A chart with only right-hand axes still needs a primary axis.
	if len(s.left) == 0 && len(s.right) > 0 {
		s.left, s.right = s.right, nil
	}
	return s
}

func (s axisSides) primary() (chart.Axis, bool) {
	if len(s.left) == 0 {
		return chart.Axis{}, false
	}
	return s.left[0], true
}

func (s axisSides) secondary() (chart.Axis, bool) {
	if len(s.right) == 0 {
		return chart.Axis{}, false
	}
	return s.right[0], true
}

func (s axisSides) target(id string) (string, gochart.YAxisType) {
	for _, a := range s.right {
		if a.ID == id {
			return s.right[0].ID, gochart.YAxisSecondary
		}
	}
	if len(s.left) > 0 {
		return s.left[0].ID, gochart.YAxisPrimary
	}
	return id, gochart.YAxisPrimary
}

func yAxis(a chart.Axis, r chart.Range) gochart.YAxis {
	y := gochart.YAxis{
		Name:  a.Title,
		Range: &gochart.ContinuousRange{Min: r.Min, Max: r.Max},
	}
	if a.Grid {
		y.GridMajorStyle = gochart.Style{StrokeColor: drawing.ColorFromHex("e0e0e0"), StrokeWidth: 1}
	} else {
		y.GridMajorStyle = gochart.Style{Hidden: true}
	}
	y.GridMinorStyle = gochart.Style{Hidden: true}
	return y
}

// ---------------------------------------------------------------------------
// Series
// ---------------------------------------------------------------------------

// lineSeries splits s at non-finite values so gaps are drawn as breaks.
// Values are mapped from their own axis range into the range of the axis
// that renders them.
func lineSeries(s chart.ModelSeries, times []time.Time, own, target chart.Range, axis gochart.YAxisType) []gochart.Series {
	var out []gochart.Series
	n := min(len(times), len(s.Values))
	for start := 0; start < n; {
		if !finite(s.Values[start]) {
			start++
			continue
		}
		end := start
		for end < n && finite(s.Values[end]) {
			end++
		}

		ts := gochart.TimeSeries{
			Name:    s.Label,
			YAxis:   axis,
			XValues: times[start:end],
			YValues: make([]float64, end-start),
			Style: gochart.Style{
				StrokeColor: toDrawing(s.LineColor),
				StrokeWidth: 2,
			},
		}
		for i := start; i < end; i++ {
			ts.YValues[i-start] = rescale(s.Values[i], own, target)
		}
		if hasMarkers(s, start, end) {
			offset := start
			weights, colors := s.PointWeight, s.PointColor
			ts.Style.DotWidthProvider = func(_, _ gochart.Range, index int, _, _ float64) float64 {
				return at(weights, offset+index)
			}
			ts.Style.DotColorProvider = func(_, _ gochart.Range, index int, _, _ float64) drawing.Color {
				i := offset + index
				if at(weights, i) <= 0 || i >= len(colors) {
					return drawing.ColorTransparent
				}
				return toDrawing(colors[i])
			}
		}
		out = append(out, ts)
		start = end
	}
	return out
}

func hasMarkers(s chart.ModelSeries, start, end int) bool {
	for i := start; i < end; i++ {
		if at(s.PointWeight, i) > 0 {
			return true
		}
	}
	return false
}

func at(v []float64, i int) float64 {
	if i < 0 || i >= len(v) {
		return 0
	}
	return v[i]
}

func rescale(v float64, from, to chart.Range) float64 {
	if from == to {
		return v
	}
	return to.Min + from.Normalize(v)*to.Span()
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func toDrawing(c chart.Color) drawing.Color {
	return drawing.Color{R: c.R, G: c.G, B: c.B, A: c.A}
}

// ---------------------------------------------------------------------------
// Elements
// ---------------------------------------------------------------------------

// crosshair replays the overlay draw commands on top of the plotted
// canvas, projected with the same geometry the hover tracker uses.
func crosshair(m *chart.Model, h chart.HoverState, o chart.Overlay) gochart.Renderable {
	return func(r gochart.Renderer, canvasBox gochart.Box, _ gochart.Style) {
		g := chart.Project(m, PlotRect(canvasBox))
		Replay(r, o.Draw(m, h, g))
	}
}

// PlotRect converts a go-chart canvas box to a plot rectangle.
func PlotRect(b gochart.Box) chart.Rect {
	return chart.Rect{
		Left:   float64(b.Left),
		Top:    float64(b.Top),
		Right:  float64(b.Right),
		Bottom: float64(b.Bottom),
	}
}

// Replay issues draw commands against a go-chart renderer in order.
func Replay(r gochart.Renderer, cmds []chart.DrawCommand) {
	for _, cmd := range cmds {
		r.ResetStyle()
		switch cmd.Kind {
		case chart.DrawLine:
			r.SetStrokeColor(toDrawing(cmd.StrokeColor))
			r.SetStrokeWidth(cmd.StrokeWidth)
			r.SetStrokeDashArray(cmd.Dash)
			r.MoveTo(round(cmd.From.X), round(cmd.From.Y))
			r.LineTo(round(cmd.To.X), round(cmd.To.Y))
			r.Stroke()
		case chart.DrawCircle:
			r.SetFillColor(toDrawing(cmd.FillColor))
			r.SetStrokeColor(toDrawing(cmd.StrokeColor))
			r.SetStrokeWidth(cmd.StrokeWidth)
			r.Circle(cmd.Radius, round(cmd.Center.X), round(cmd.Center.Y))
			r.FillStroke()
		}
	}
	r.ResetStyle()
}

// legend draws one swatch and label per action along the top edge.
func legend(rows []chart.ActionStyle) gochart.Renderable {
	return func(r gochart.Renderer, canvasBox gochart.Box, defaults gochart.Style) {
		x := canvasBox.Left
		y := canvasBox.Top - 12
		for _, row := range rows {
			r.ResetStyle()
			r.SetFillColor(toDrawing(row.Color))
			r.SetStrokeColor(toDrawing(row.Color))
			r.SetStrokeWidth(1)
			r.Circle(5, x+5, y)
			r.FillStroke()

			r.SetFont(defaults.Font)
			r.SetFontSize(10)
			r.SetFontColor(drawing.ColorBlack)
			r.Text(row.Label, x+14, y+4)
			x += 14 + r.MeasureText(row.Label).Width() + 16
		}
		r.ResetStyle()
	}
}

func round(v float64) int { return int(math.Round(v)) }

func blank(w io.Writer, width, height int) error {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return png.Encode(w, img)
}
