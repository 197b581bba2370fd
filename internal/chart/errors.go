package chart

import "fmt"

// DataShapeError reports a record sequence that cannot form a time axis:
// an unparseable timestamp or timestamps that are not strictly ascending.
type DataShapeError struct {
	Index     int
	Timestamp string
	Reason    string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("data shape: record %d (%q): %s", e.Index, e.Timestamp, e.Reason)
}

// AxisMismatchError reports series that do not share the model's time axis
// or that bind to an axis the layout does not declare.
type AxisMismatchError struct {
	Series string
	AxisID string
	Want   int
	Got    int
}

func (e *AxisMismatchError) Error() string {
	if e.Want != e.Got {
		return fmt.Sprintf("axis mismatch: series %q has %d values, axis has %d", e.Series, e.Got, e.Want)
	}
	return fmt.Sprintf("axis mismatch: series %q bound to undeclared axis %q", e.Series, e.AxisID)
}
