// Package macro builds the market-wide indicator charts: S&P 500 momentum,
// safe-haven demand, VIX and the junk/investment-grade yield spread.
package macro

import (
	"math"

	"github.com/cinar/indicator"

	"marketpulse/internal/chart"
	"marketpulse/internal/market"
)

// Indicator names, also used as upstream endpoint names and payload keys.
const (
	MarketMomentum = "market_momentum"
	SafeHaven      = "safe_haven"
	VIX            = "vix"
	YieldSpread    = "yield_spread"
)

// Upstream column names.
const (
	ColumnSP500       = "S&P500"
	ColumnSP500Avg    = "S&P500_125"
	ColumnSafeHaven   = "safe_haven"
	ColumnVIX         = "VIX"
	ColumnVIXAvg      = "VIX_50"
	ColumnYieldSpread = "yield_spread"
)

// Average derives a moving-average column when the upstream omits it.
type Average struct {
	Source string
	Target string
	Period int
}

// Definition describes one indicator chart.
type Definition struct {
	Name    string
	Title   string
	Fields  []chart.Field
	Average *Average
}

var definitions = []Definition{
	{
		Name:  MarketMomentum,
		Title: "Market Momentum",
		Fields: []chart.Field{
			{Name: ColumnSP500, Label: "S&P500", Color: chart.ColorNavy},
			{Name: ColumnSP500Avg, Label: "S&P500 Moving Average 125", Color: chart.ColorTomato},
		},
		Average: &Average{Source: ColumnSP500, Target: ColumnSP500Avg, Period: 125},
	},
	{
		Name:  SafeHaven,
		Title: "Safe Haven Demand",
		Fields: []chart.Field{
			{Name: ColumnSafeHaven, Label: "Safe Haven", Color: chart.ColorNavy, Scale: 100},
		},
	},
	{
		Name:  VIX,
		Title: "Market Volatility",
		Fields: []chart.Field{
			{Name: ColumnVIX, Label: "VIX", Color: chart.ColorNavy},
			{Name: ColumnVIXAvg, Label: "VIX Moving Average 50", Color: chart.ColorTomato},
		},
		Average: &Average{Source: ColumnVIX, Target: ColumnVIXAvg, Period: 50},
	},
	{
		Name:  YieldSpread,
		Title: "Junk Bond Demand",
		Fields: []chart.Field{
			{Name: ColumnYieldSpread, Label: "Yield Spread", Color: chart.ColorNavy, Scale: 100},
		},
	},
}

// Definitions returns every indicator in display order.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

// Lookup finds an indicator by name.
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Options returns the chart options for the indicator: every series on a
// single "Value" axis with no point markers.
func (d Definition) Options() chart.Options {
	fields := make([]chart.Field, len(d.Fields))
	for i, f := range d.Fields {
		f.AxisID = chart.AxisValue
		f.Tension = 0.3
		fields[i] = f
	}
	return chart.Options{
		Fields: fields,
		Layout: chart.Layout{
			Title: d.Title,
			XAxis: chart.MonthAxis,
			Axes: []chart.Axis{
				{ID: chart.AxisValue, Title: "Value", Position: chart.PositionLeft, Grid: true},
			},
			Legend: []chart.ActionStyle{},
		},
		Palette: chart.Palette{},
	}
}

// Prepare returns records with the moving-average column filled in when
// every row lacks it. Records are not modified in place.
func (d Definition) Prepare(records []market.Record) []market.Record {
	if d.Average == nil || len(records) == 0 {
		return records
	}
	for _, r := range records {
		if r.Field(d.Average.Target).Valid() {
			return records
		}
	}

	values := make([]float64, len(records))
	for i, r := range records {
		values[i] = r.Field(d.Average.Source).Float()
	}
	avg := MovingAverage(values, d.Average.Period)

	out := make([]market.Record, len(records))
	for i, r := range records {
		extra := make(map[string]market.Number, len(r.Extra)+1)
		for k, v := range r.Extra {
			extra[k] = v
		}
		extra[d.Average.Target] = market.Num(avg[i])
		r.Extra = extra
		out[i] = r
	}
	return out
}

// Build prepares records and builds the indicator chart.
func (d Definition) Build(records []market.Record) (*chart.Snapshot, error) {
	return chart.Build(d.Prepare(records), d.Options())
}

// MovingAverage returns the simple moving average of values over period.
// Positions before a full window, and windows containing NaN, are NaN.
func MovingAverage(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	// Compute over NaN-free runs so one gap does not poison the rest.
	start := 0
	for start < len(values) {
		if math.IsNaN(values[start]) {
			out[start] = math.NaN()
			start++
			continue
		}
		end := start
		for end < len(values) && !math.IsNaN(values[end]) {
			end++
		}
		run := values[start:end]
		sma := indicator.Sma(period, run)
		for i := range run {
			if i < period-1 || i >= len(sma) {
				out[start+i] = math.NaN()
				continue
			}
			out[start+i] = sma[i]
		}
		start = end
	}
	return out
}
