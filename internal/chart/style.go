package chart

import (
	"fmt"

	"marketpulse/internal/market"
)

// ActionStyle is one row of the palette table.
type ActionStyle struct {
	Action market.Action `json:"action"`
	Label  string        `json:"label"`
	Color  Color         `json:"color"`
}

// Palette is the single table of recognised action tags together with
// their marker colours and weights. Styles are listed in priority order:
// when several tags land on one axis position, the earliest row wins.
type Palette struct {
	Styles        []ActionStyle
	EventWeight   float64
	DefaultWeight float64
}

// Default marker weights.
const (
	DefaultEventWeight    = 5
	DefaultUnmarkedWeight = 0
)

// DefaultPalette returns the standard table: Potential exit, then Mixed
// signal, then Momentum trade.
func DefaultPalette() Palette {
	return Palette{
		Styles: []ActionStyle{
			{Action: market.ActionPotentialExit, Label: "Potential Exit", Color: MustHex("#FF4500")},
			{Action: market.ActionMixedSignal, Label: "Mixed Signal", Color: MustHex("#FFD700")},
			{Action: market.ActionMomentumTrade, Label: "Momentum Trade", Color: MustHex("#3CB371")},
		},
		EventWeight:   DefaultEventWeight,
		DefaultWeight: DefaultUnmarkedWeight,
	}
}

// Lookup returns the style row for a tag and its priority (0 is highest).
func (p Palette) Lookup(a market.Action) (ActionStyle, int, bool) {
	for i, s := range p.Styles {
		if s.Action == a {
			return s, i, true
		}
	}
	return ActionStyle{}, -1, false
}

// Recognizes reports whether a is one of the palette's tags.
func (p Palette) Recognizes(a market.Action) bool {
	_, _, ok := p.Lookup(a)
	return ok
}

// WithColors returns a copy of the palette with colours replaced from a
// tag -> hex map. Unknown tags are rejected.
func (p Palette) WithColors(overrides map[string]string) (Palette, error) {
	out := p
	out.Styles = append([]ActionStyle(nil), p.Styles...)
	for tag, hex := range overrides {
		_, i, ok := out.Lookup(market.Action(tag))
		if !ok {
			return Palette{}, fmt.Errorf("palette: unknown action %q", tag)
		}
		c, err := ParseHex(hex)
		if err != nil {
			return Palette{}, fmt.Errorf("palette: %w", err)
		}
		out.Styles[i].Color = c
	}
	return out, nil
}

// Legend returns the palette rows in display order.
func (p Palette) Legend() []ActionStyle {
	return append([]ActionStyle(nil), p.Styles...)
}

// StylePoints computes per-position marker weights and colours for an axis
// of n positions. Every event participates, not just the ranked subset.
func (p Palette) StylePoints(n int, events []Event) ([]float64, []Color) {
	weights := make([]float64, n)
	colors := make([]Color, n)
	prio := make([]int, n)
	for i := range weights {
		weights[i] = p.DefaultWeight
		prio[i] = -1
	}

	for _, ev := range events {
		if ev.Index < 0 || ev.Index >= n {
			continue
		}
		style, rank, ok := p.Lookup(ev.Action)
		if !ok {
			continue
		}
		if prio[ev.Index] >= 0 && prio[ev.Index] <= rank {
			continue
		}
		prio[ev.Index] = rank
		weights[ev.Index] = p.EventWeight
		colors[ev.Index] = style.Color
	}
	return weights, colors
}
