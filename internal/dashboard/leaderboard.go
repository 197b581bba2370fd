// Package dashboard turns chart snapshots into the tabular views shown next
// to the chart: the top-events leaderboard, the fear/greed gauge and the
// list of stored snapshots.
package dashboard

import (
	"marketpulse/internal/chart"
	"marketpulse/internal/market"
)

// Entry is one leaderboard row.
type Entry struct {
	Rank        int           `json:"rank"`
	Index       int           `json:"index"`
	Date        string        `json:"date"`
	Action      market.Action `json:"action"`
	Label       string        `json:"label"`
	Color       chart.Color   `json:"color"`
	Magnitude   string        `json:"magnitude"`
	Score       string        `json:"score"`
	Price       string        `json:"price"`
	Headline    string        `json:"headline"`
	URL         string        `json:"url,omitempty"`
	TopComment  string        `json:"topComment,omitempty"`
	Correlation string        `json:"correlation,omitempty"`
}

// ActionGroup counts the events of one action tag.
type ActionGroup struct {
	Action market.Action `json:"action"`
	Label  string        `json:"label"`
	Color  chart.Color   `json:"color"`
	Count  int           `json:"count"`
}

// Leaderboard is the events panel for one chart.
type Leaderboard struct {
	Title   string        `json:"title"`
	Points  int           `json:"points"`
	Events  int           `json:"events"`
	Entries []Entry       `json:"entries"`
	Groups  []ActionGroup `json:"groups"`
	Gauge   *Gauge        `json:"gauge,omitempty"`
}

// BuildLeaderboard lists the snapshot's ranked events, most significant
// first, with per-action counts over every classified event.
func BuildLeaderboard(snap *chart.Snapshot, palette chart.Palette) Leaderboard {
	lb := Leaderboard{
		Title:   snap.Model.Title,
		Points:  snap.Model.Len(),
		Events:  len(snap.Events),
		Entries: make([]Entry, 0, len(snap.Ranked)),
		Groups:  make([]ActionGroup, 0, len(palette.Styles)),
	}

	records := snap.Records()
	for i, ev := range snap.Ranked {
		style, _, _ := palette.Lookup(ev.Action)
		e := Entry{
			Rank:        i + 1,
			Index:       ev.Index,
			Date:        FormatDate(ev.Timestamp),
			Action:      ev.Action,
			Label:       style.Label,
			Color:       style.Color,
			Magnitude:   FormatMagnitude(ev.Magnitude),
			Score:       FormatValue(ev.Score),
			Headline:    ev.Headline,
			URL:         ev.URL,
			TopComment:  ev.TopComment,
			Correlation: FormatCorrelation(ev.Correlation),
		}
		if ev.Index >= 0 && ev.Index < len(records) {
			e.Price = FormatPrice(records[ev.Index].Price)
		}
		lb.Entries = append(lb.Entries, e)
	}

	counts := make(map[market.Action]int)
	for _, ev := range snap.Events {
		counts[ev.Action]++
	}
	for _, s := range palette.Styles {
		if counts[s.Action] == 0 {
			continue
		}
		lb.Groups = append(lb.Groups, ActionGroup{
			Action: s.Action,
			Label:  s.Label,
			Color:  s.Color,
			Count:  counts[s.Action],
		})
	}

	if g, ok := LatestGauge(records); ok {
		lb.Gauge = &g
	}
	return lb
}
