package chart

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"marketpulse/internal/market"
)

// Values is a numeric series whose NaN entries encode as JSON null.
type Values []float64

func (v Values) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			b.WriteString("null")
			continue
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.Bytes(), nil
}

func (v *Values) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Values, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *p
	}
	*v = out
	return nil
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// Axis positions.
const (
	PositionLeft  = "left"
	PositionRight = "right"
)

// Axis declares one independently scaled y-axis.
type Axis struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position string `json:"position"`
	// Grid draws this axis' grid lines across the plot area.
	Grid bool `json:"grid"`
}

// TimeAxis describes the shared x-axis presentation.
type TimeAxis struct {
	Title  string `json:"title"`
	Unit   string `json:"unit"`
	Format string `json:"format"` // Go time layout for tick labels
}

// Layout is the presentation metadata attached by the composer.
type Layout struct {
	Title  string
	XAxis  TimeAxis
	Axes   []Axis
	Legend []ActionStyle
}

// ModelSeries is a composed series: values plus per-point styling, all of
// the model's axis length.
type ModelSeries struct {
	Label       string    `json:"label"`
	AxisID      string    `json:"axisId"`
	LineColor   Color     `json:"lineColor"`
	Tension     float64   `json:"tension"`
	Values      Values    `json:"values"`
	PointWeight []float64 `json:"pointWeight"`
	PointColor  []Color   `json:"pointColor"`
}

// Model is the renderer-agnostic chart: a shared time axis plus the series
// drawn against it. A Model is never mutated after Compose returns.
type Model struct {
	Title      string        `json:"title"`
	Timestamps []string      `json:"timestamps"`
	XAxis      TimeAxis      `json:"xAxis"`
	Axes       []Axis        `json:"axes"`
	Series     []ModelSeries `json:"series"`
	Legend     []ActionStyle `json:"legend,omitempty"`

	times []time.Time
}

// Len returns the axis length.
func (m *Model) Len() int { return len(m.Timestamps) }

// Times returns the parsed axis. Models decoded from JSON parse their
// labels on demand; unparseable labels yield the zero time.
func (m *Model) Times() []time.Time {
	if len(m.times) == len(m.Timestamps) {
		return m.times
	}
	out := make([]time.Time, len(m.Timestamps))
	for i, s := range m.Timestamps {
		out[i], _ = ParseTimestamp(s)
	}
	return out
}

// Axis returns the declared axis with the given id.
func (m *Model) Axis(id string) (Axis, bool) {
	for _, a := range m.Axes {
		if a.ID == id {
			return a, true
		}
	}
	return Axis{}, false
}

// Compose assembles series sharing tl into a Model. weights and colors are
// the per-position point styles applied to every series; nil means
// unstyled. It fails with *AxisMismatchError when any sequence differs in
// length from the axis or a series names an undeclared axis.
func Compose(tl Timeline, series []Series, weights []float64, colors []Color, layout Layout) (*Model, error) {
	n := tl.Len()
	if len(tl.Times) != n {
		return nil, &AxisMismatchError{Series: "timeline", Want: n, Got: len(tl.Times)}
	}
	if weights == nil {
		weights = make([]float64, n)
	}
	if colors == nil {
		colors = make([]Color, n)
	}
	if len(weights) != n {
		return nil, &AxisMismatchError{Series: "point weights", Want: n, Got: len(weights)}
	}
	if len(colors) != n {
		return nil, &AxisMismatchError{Series: "point colours", Want: n, Got: len(colors)}
	}

	declared := make(map[string]bool, len(layout.Axes))
	for _, a := range layout.Axes {
		declared[a.ID] = true
	}

	m := &Model{
		Title:      layout.Title,
		Timestamps: append([]string{}, tl.Labels...),
		XAxis:      layout.XAxis,
		Axes:       append([]Axis(nil), layout.Axes...),
		Series:     make([]ModelSeries, 0, len(series)),
		Legend:     append([]ActionStyle(nil), layout.Legend...),
		times:      append([]time.Time(nil), tl.Times...),
	}
	for _, s := range series {
		if len(s.Values) != n {
			return nil, &AxisMismatchError{Series: s.Label, AxisID: s.AxisID, Want: n, Got: len(s.Values)}
		}
		if !declared[s.AxisID] {
			return nil, &AxisMismatchError{Series: s.Label, AxisID: s.AxisID, Want: n, Got: n}
		}
		m.Series = append(m.Series, ModelSeries{
			Label:       s.Label,
			AxisID:      s.AxisID,
			LineColor:   s.Color,
			Tension:     s.Tension,
			Values:      append(Values{}, s.Values...),
			PointWeight: append([]float64{}, weights...),
			PointColor:  append([]Color{}, colors...),
		})
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// Options configures Build.
type Options struct {
	Fields     []Field
	Layout     Layout
	Palette    Palette
	TopK       int
	ScoreField string
}

// Snapshot is the immutable output of one build cycle.
type Snapshot struct {
	Model  *Model
	Events []Event
	Ranked []Event

	records []market.Record
	fields  []Field
}

// Records returns the records the snapshot was built from.
func (s *Snapshot) Records() []market.Record { return s.records }

// Reading is one series' value at a hovered position, as displayed.
type Reading struct {
	Label string `json:"label"`
	Color Color  `json:"color"`
	Value string `json:"value"`
}

// Readout returns the tooltip rows for axis position i in series order.
// Non-numeric values are shown as the upstream sent them.
func (s *Snapshot) Readout(i int) []Reading {
	if i < 0 || i >= len(s.records) {
		return nil
	}
	out := make([]Reading, 0, len(s.fields))
	for _, f := range s.fields {
		n := s.records[i].Field(f.Name)
		v := n.String()
		if n.Valid() && f.Scale != 0 && f.Scale != 1 {
			v = strconv.FormatFloat(n.Float()*f.Scale, 'f', -1, 64)
		}
		out = append(out, Reading{Label: f.Label, Color: f.Color, Value: v})
	}
	return out
}

// Build runs the full pipeline over one fetch result: extract, classify,
// rank, style and compose.
func Build(records []market.Record, opts Options) (*Snapshot, error) {
	tl, series, err := Extract(records, opts.Fields...)
	if err != nil {
		return nil, err
	}

	events := Classifier{Palette: opts.Palette, ScoreField: opts.ScoreField}.Classify(records)
	weights, colors := opts.Palette.StylePoints(tl.Len(), events)

	model, err := Compose(tl, series, weights, colors, opts.Layout)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Model:   model,
		Events:  events,
		Ranked:  Rank(events, opts.TopK),
		records: records,
		fields:  opts.Fields,
	}, nil
}

// ---------------------------------------------------------------------------
// Standard layouts
// ---------------------------------------------------------------------------

// Axis ids used by the stock chart.
const (
	AxisPrice     = "yPrice"
	AxisSentiment = "ySentiment"
	AxisFearGreed = "yFearGreed"
	AxisValue     = "y"
)

// MonthAxis is the default x-axis: monthly ticks labelled "Jan 2006".
var MonthAxis = TimeAxis{Title: "Time", Unit: "month", Format: "Jan 2006"}

// StockOptions returns the price-and-sentiment chart used for a single
// instrument: price on the left axis, sentiment on the right.
func StockOptions(title string, palette Palette, topK int) Options {
	return Options{
		Fields: []Field{
			{Name: market.FieldPrice, Label: "Stock Price", AxisID: AxisPrice, Color: ColorNavy, Tension: 0.3},
			{Name: market.FieldSentiment, Label: "Sentiment", AxisID: AxisSentiment, Color: ColorTomato, Tension: 0.3},
		},
		Layout: Layout{
			Title: title,
			XAxis: MonthAxis,
			Axes: []Axis{
				{ID: AxisPrice, Title: "Stock Price", Position: PositionLeft, Grid: true},
				{ID: AxisSentiment, Title: "Sentiment", Position: PositionRight},
			},
			Legend: palette.Legend(),
		},
		Palette: palette,
		TopK:    topK,
	}
}

// FearGreedOptions returns the single-axis fear/greed score chart.
func FearGreedOptions(title string, palette Palette, topK int) Options {
	return Options{
		Fields: []Field{
			{Name: market.FieldFearGreed, Label: "Fear/Greed Score", AxisID: AxisFearGreed, Color: ColorNavy, Tension: 0.3},
		},
		Layout: Layout{
			Title: title,
			XAxis: MonthAxis,
			Axes: []Axis{
				{ID: AxisFearGreed, Title: "Fear/Greed Score", Position: PositionLeft, Grid: true},
			},
			Legend: palette.Legend(),
		},
		Palette: palette,
		TopK:    topK,
	}
}
