package dashboard

import (
	"fmt"
	"math"
	"strings"

	"marketpulse/internal/chart"
	"marketpulse/internal/market"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPrice formats a price as X.XX, or "-" when absent.
func FormatPrice(n market.Number) string {
	if !n.Valid() {
		return FormatValue(n)
	}
	return fmt.Sprintf("%.2f", n.Float())
}

// FormatValue formats a numeric column for display. Non-numeric upstream
// values are shown verbatim and absent values as "-".
func FormatValue(n market.Number) string {
	if n.Valid() {
		return trimFloat(n.Float(), 4)
	}
	if n.Raw() == "" {
		return "-"
	}
	return n.Raw()
}

// FormatMagnitude formats an event magnitude to two decimals, or "n/a"
// when the score was not numeric.
func FormatMagnitude(m float64) string {
	if math.IsNaN(m) {
		return "n/a"
	}
	return trimFloat(m, 2)
}

// FormatCorrelation formats a correlation coefficient as "0.42", or ""
// when absent.
func FormatCorrelation(n market.Number) string {
	if !n.Valid() {
		return n.Raw()
	}
	return fmt.Sprintf("%.2f", n.Float())
}

// FormatDate shortens an axis label to its date part when it parses as a
// timestamp.
func FormatDate(label string) string {
	t, err := chart.ParseTimestamp(label)
	if err != nil {
		return label
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04")
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func trimFloat(v float64, prec int) string {
	s := fmt.Sprintf("%.*f", prec, v)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}
