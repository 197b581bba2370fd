package chart

import (
	"fmt"
	"time"

	"marketpulse/internal/market"
)

// Field selects one record column as a chart series.
type Field struct {
	Name    string // record column, see market.Record.Field
	Label   string
	AxisID  string
	Color   Color
	Tension float64
	Scale   float64 // multiplier applied to every value; 0 means 1
}

// Timeline is the shared x-axis: one slot per input record.
type Timeline struct {
	Labels []string
	Times  []time.Time
}

// Len returns the number of axis positions.
func (t Timeline) Len() int { return len(t.Labels) }

// Series is a numeric projection of one field, aligned 1:1 with a Timeline.
// Invalid values are NaN.
type Series struct {
	Label   string
	AxisID  string
	Color   Color
	Tension float64
	Values  []float64
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses the ISO-8601 variants the upstream emits. Values
// without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Extract projects records onto a shared time axis and one series per
// field. The records must already be in strictly ascending timestamp
// order; Extract never sorts and never fills gaps.
func Extract(records []market.Record, fields ...Field) (Timeline, []Series, error) {
	tl := Timeline{
		Labels: make([]string, len(records)),
		Times:  make([]time.Time, len(records)),
	}
	for i, r := range records {
		ts, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return Timeline{}, nil, &DataShapeError{Index: i, Timestamp: r.Timestamp, Reason: "unparseable timestamp"}
		}
		if i > 0 && !ts.After(tl.Times[i-1]) {
			return Timeline{}, nil, &DataShapeError{
				Index:     i,
				Timestamp: r.Timestamp,
				Reason:    fmt.Sprintf("not after previous timestamp %q", tl.Labels[i-1]),
			}
		}
		tl.Labels[i] = r.Timestamp
		tl.Times[i] = ts
	}

	series := make([]Series, len(fields))
	for j, f := range fields {
		scale := f.Scale
		if scale == 0 {
			scale = 1
		}
		vals := make([]float64, len(records))
		for i, r := range records {
			vals[i] = r.Field(f.Name).Float() * scale
		}
		series[j] = Series{
			Label:   f.Label,
			AxisID:  f.AxisID,
			Color:   f.Color,
			Tension: f.Tension,
			Values:  vals,
		}
	}
	return tl, series, nil
}
