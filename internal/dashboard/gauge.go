package dashboard

import (
	"math"

	"marketpulse/internal/chart"
	"marketpulse/internal/market"
)

// Zone is a band of the 0-100 fear/greed scale.
type Zone struct {
	Name  string
	Upper float64 // exclusive
	Color chart.Color
}

// Zones are ordered by upper bound.
var Zones = []Zone{
	{Name: "Extreme Fear", Upper: 25, Color: chart.MustHex("#D9534F")},
	{Name: "Fear", Upper: 50, Color: chart.MustHex("#F0AD4E")},
	{Name: "Greed", Upper: 75, Color: chart.MustHex("#5CB85C")},
	{Name: "Extreme Greed", Upper: math.Inf(1), Color: chart.MustHex("#4CAE4C")},
}

// Gauge is the fear/greed reading for the latest record that has one.
type Gauge struct {
	Score     float64     `json:"score"`
	Zone      string      `json:"zone"`
	Color     chart.Color `json:"color"`
	Timestamp string      `json:"timestamp"`
}

// ZoneFor returns the zone containing score. Scores are clamped to 0-100.
func ZoneFor(score float64) Zone {
	score = math.Max(0, math.Min(100, score))
	for _, z := range Zones {
		if score < z.Upper {
			return z
		}
	}
	return Zones[len(Zones)-1]
}

// LatestGauge scans records from the end for a numeric fear/greed score.
func LatestGauge(records []market.Record) (Gauge, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		n := records[i].FearGreed
		if !n.Valid() {
			continue
		}
		z := ZoneFor(n.Float())
		return Gauge{
			Score:     n.Float(),
			Zone:      z.Name,
			Color:     z.Color,
			Timestamp: records[i].Timestamp,
		}, true
	}
	return Gauge{}, false
}
