package chart

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Color is an 8-bit RGBA colour. The zero value is fully transparent.
type Color struct {
	R, G, B, A uint8
}

// Transparent is the colour of unstyled points.
var Transparent = Color{}

// Named colours used by the default layouts.
var (
	ColorNavy   = MustHex("#002D62")
	ColorTomato = MustHex("#FF6347")
	ColorWhite  = MustHex("#FFFFFF")
	ColorBlack  = MustHex("#000000")
)

// RGBA builds a colour from components and an alpha in [0,1].
func RGBA(r, g, b uint8, alpha float64) Color {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return Color{R: r, G: g, B: b, A: uint8(alpha*255 + 0.5)}
}

// ParseHex parses "#RRGGBB" or "#RRGGBBAA".
func ParseHex(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 && len(h) != 8 {
		return Color{}, fmt.Errorf("invalid hex colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid hex colour %q: %w", s, err)
	}
	if len(h) == 6 {
		return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
	}
	return Color{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// MustHex is ParseHex for package-level literals.
func MustHex(s string) Color {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// IsTransparent reports whether the colour has zero alpha.
func (c Color) IsTransparent() bool { return c.A == 0 }

// Contrast returns black or white, whichever reads better on top of c.
func (c Color) Contrast() Color {
	lum := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
	if lum > 150 {
		return ColorBlack
	}
	return ColorWhite
}

// String renders opaque colours as "#RRGGBB" and the rest in CSS rgba()
// notation.
func (c Color) String() string {
	if c.A == 255 {
		return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B,
		strconv.FormatFloat(float64(c.A)/255, 'f', 2, 64))
}

func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts the two forms produced by String.
func (c *Color) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.HasPrefix(s, "#") {
		v, err := ParseHex(s)
		if err != nil {
			return err
		}
		*c = v
		return nil
	}
	var r, g, b int
	var a float64
	if _, err := fmt.Sscanf(s, "rgba(%d, %d, %d, %g)", &r, &g, &b, &a); err != nil {
		return fmt.Errorf("invalid colour %q: %w", s, err)
	}
	*c = RGBA(uint8(r), uint8(g), uint8(b), a)
	return nil
}
