package config

import "marketpulse/internal/chart"

// ChartPalette returns the default action palette with the configured
// weights and colour overrides applied.
func (c *Config) ChartPalette() (chart.Palette, error) {
	p := chart.DefaultPalette()
	if c.Chart.EventWeight != nil {
		p.EventWeight = *c.Chart.EventWeight
	}
	if c.Chart.DefaultWeight != nil {
		p.DefaultWeight = *c.Chart.DefaultWeight
	}
	if len(c.Palette) == 0 {
		return p, nil
	}
	return p.WithColors(c.Palette)
}
