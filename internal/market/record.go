// Package market defines the time-series records served by the upstream
// sentiment API and the value types shared by every other package.
package market

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Action is the annotation tag attached to a record by the upstream analyser.
type Action string

// Recognised action tags. Any other value, including the empty string, is
// treated as "no action".
const (
	ActionMixedSignal   Action = "Mixed signal"
	ActionPotentialExit Action = "Potential exit"
	ActionMomentumTrade Action = "Momentum trade"
)

// Field names accepted by Record.Field.
const (
	FieldPrice       = "price"
	FieldSentiment   = "sentiment"
	FieldFearGreed   = "fear_greed_score"
	FieldCorrelation = "correlation"
)

// Record is one observation of an instrument at a point in time.
type Record struct {
	Timestamp   string
	Price       Number
	Sentiment   Number
	FearGreed   Number
	Correlation Number
	Action      Action
	ArticleURL  string
	Title       string
	TopComment  string

	// Extra holds any additional numeric columns keyed by their upstream
	// name, e.g. "VIX" or "S&P500_125" on macro indicator rows.
	Extra map[string]Number
}

// Field returns the numeric column with the given name. Unknown names
// resolve against Extra and yield an invalid Number when absent.
func (r Record) Field(name string) Number {
	switch name {
	case FieldPrice:
		return r.Price
	case FieldSentiment:
		return r.Sentiment
	case FieldFearGreed:
		return r.FearGreed
	case FieldCorrelation:
		return r.Correlation
	}
	if n, ok := r.Extra[name]; ok {
		return n
	}
	return Number{}
}

// UnmarshalJSON decodes a record from the upstream wire shape. Older
// upstream revisions used space-separated keys ("article url",
// "top comment"); both spellings are accepted.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}

	*r = Record{}
	str := func(keys ...string) (string, error) {
		for _, k := range keys {
			v, ok := raw[k]
			if !ok {
				continue
			}
			delete(raw, k)
			if string(v) == "null" {
				continue
			}
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return "", fmt.Errorf("field %q: %w", k, err)
			}
			return s, nil
		}
		return "", nil
	}
	num := func(keys ...string) (Number, error) {
		for _, k := range keys {
			v, ok := raw[k]
			if !ok {
				continue
			}
			delete(raw, k)
			var n Number
			if err := n.UnmarshalJSON(v); err != nil {
				return Number{}, fmt.Errorf("field %q: %w", k, err)
			}
			return n, nil
		}
		return Number{}, nil
	}

	var err error
	if r.Timestamp, err = str("timestamp", "date"); err != nil {
		return err
	}
	if r.Price, err = num("price"); err != nil {
		return err
	}
	if r.Sentiment, err = num("sentiment"); err != nil {
		return err
	}
	if r.FearGreed, err = num("fear_greed_score", "fear greed score"); err != nil {
		return err
	}
	if r.Correlation, err = num("correlation"); err != nil {
		return err
	}
	action, err := str("action")
	if err != nil {
		return err
	}
	r.Action = Action(action)
	if r.ArticleURL, err = str("article_url", "article url"); err != nil {
		return err
	}
	if r.Title, err = str("title"); err != nil {
		return err
	}
	if r.TopComment, err = str("top_comment", "top comment"); err != nil {
		return err
	}

	for k, v := range raw {
		var n Number
		if err := n.UnmarshalJSON(v); err != nil {
			// Nested objects and arrays are not chartable columns.
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]Number)
		}
		r.Extra[k] = n
	}
	return nil
}

// MarshalJSON encodes the record using the snake_case key set. Extra
// columns are flattened alongside the named fields.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 9+len(r.Extra))
	for k, v := range r.Extra {
		out[k] = v
	}
	out["timestamp"] = r.Timestamp
	out["price"] = r.Price
	out["sentiment"] = r.Sentiment
	out["fear_greed_score"] = r.FearGreed
	out["correlation"] = r.Correlation
	if r.Action != "" {
		out["action"] = string(r.Action)
	}
	if r.ArticleURL != "" {
		out["article_url"] = r.ArticleURL
	}
	if r.Title != "" {
		out["title"] = r.Title
	}
	if r.TopComment != "" {
		out["top_comment"] = r.TopComment
	}
	return json.Marshal(out)
}

// ExtraKeys returns the names of the extra columns in sorted order.
func (r Record) ExtraKeys() []string {
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Windows
// ---------------------------------------------------------------------------

// Window is the lookback period requested from the upstream API.
type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
)

// DefaultWindow is used when a request does not name one.
const DefaultWindow = WindowMonth

// ParseWindow validates a window name. The empty string maps to
// DefaultWindow.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return DefaultWindow, nil
	case WindowDay, WindowWeek, WindowMonth, WindowYear:
		return w, nil
	default:
		return "", fmt.Errorf("unknown window %q", s)
	}
}
