package chart

import (
	"math"
	"sort"

	"marketpulse/internal/market"
)

// DefaultTopK is the leaderboard length used when none is configured.
const DefaultTopK = 8

// Event is a record carrying a recognised action tag.
type Event struct {
	Index       int           `json:"index"`
	Timestamp   string        `json:"timestamp"`
	Action      market.Action `json:"action"`
	Magnitude   float64       `json:"-"`
	Score       market.Number `json:"score"`
	Headline    string        `json:"headline,omitempty"`
	URL         string        `json:"url,omitempty"`
	TopComment  string        `json:"topComment,omitempty"`
	Correlation market.Number `json:"correlation"`
}

// Ranked reports whether the event has a numeric magnitude. Events scored
// from a non-numeric field are still styled on the chart but never enter
// the leaderboard.
func (e Event) Ranked() bool { return !math.IsNaN(e.Magnitude) }

// Classifier selects action events from a record sequence.
type Classifier struct {
	Palette Palette

	// ScoreField names the record column whose absolute value becomes the
	// event magnitude. Empty means sentiment.
	ScoreField string
}

// Classify returns one Event per record whose action is an exact member of
// the palette's tag set, in record order.
func (c Classifier) Classify(records []market.Record) []Event {
	field := c.ScoreField
	if field == "" {
		field = market.FieldSentiment
	}

	var events []Event
	for i, r := range records {
		if !c.Palette.Recognizes(r.Action) {
			continue
		}
		score := r.Field(field)
		events = append(events, Event{
			Index:       i,
			Timestamp:   r.Timestamp,
			Action:      r.Action,
			Magnitude:   math.Abs(score.Float()),
			Score:       score,
			Headline:    r.Title,
			URL:         r.ArticleURL,
			TopComment:  r.TopComment,
			Correlation: r.Correlation,
		})
	}
	return events
}

// Rank returns at most k events ordered by descending magnitude. Equal
// magnitudes keep their chronological order. k <= 0 selects DefaultTopK.
// The input slice is not modified.
func Rank(events []Event, k int) []Event {
	if k <= 0 {
		k = DefaultTopK
	}

	ranked := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Ranked() {
			ranked = append(ranked, ev)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Magnitude > ranked[j].Magnitude
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
