// One-shot console view of a chart's event leaderboard, fetched from a
// running marketpulse-server.
//
// Usage:
//
//	go run cmd/marketpulse-console/main.go -company "Apple Inc" -ticker AAPL [-window year] [-top 5] [-macro]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"marketpulse/internal/dashboard"
	"marketpulse/internal/httpapi"
	"marketpulse/pkg/marketpulse"
)

// Styles.
var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	priceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "marketpulse-server base URL")
	company := flag.String("company", "", "company name")
	ticker := flag.String("ticker", "", "ticker symbol")
	window := flag.String("window", "", "lookback window: day, week, month or year")
	kind := flag.String("kind", "", "chart kind: stock or fear_greed")
	top := flag.Int("top", 0, "number of events to list (default: server setting)")
	showMacro := flag.Bool("macro", false, "also list macro indicators")
	flag.Parse()

	if *ticker == "" {
		fmt.Fprintln(os.Stderr, "usage: marketpulse-console -ticker SYMBOL [-company NAME] [-window W] [-top N] [-macro]")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := marketpulse.NewClient(*serverURL)
	q := marketpulse.Query{Company: *company, Ticker: *ticker, Window: *window, Kind: *kind, Top: *top}
	lb, err := client.GetEvents(ctx, q)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
	fmt.Print(renderLeaderboard(lb))

	if *showMacro {
		m, err := client.GetMacro(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
			os.Exit(1)
		}
		fmt.Print(renderMacro(m))
	}
}

func renderLeaderboard(lb *httpapi.EventsResponse) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s  %s", lb.Title, lb.Request.Window)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s points, %s events", dashboard.FormatInt(lb.Points), dashboard.FormatInt(lb.Events))))
	b.WriteString("\n")

	if lb.Gauge != nil {
		zone := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(lb.Gauge.Color.String()))
		fmt.Fprintf(&b, "Fear/Greed %s %s\n", zone.Render(fmt.Sprintf("%.0f", lb.Gauge.Score)), zone.Render(lb.Gauge.Zone))
	}

	var groups []string
	for _, g := range lb.Groups {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(g.Color.String())).Render("●")
		groups = append(groups, fmt.Sprintf("%s %s %d", dot, g.Label, g.Count))
	}
	if len(groups) > 0 {
		b.WriteString(strings.Join(groups, "   "))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(lb.Entries) == 0 {
		b.WriteString(dimStyle.Render("no ranked events"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("%3s  %-10s  %-15s  %9s  %7s  %10s  %s", "#", "Date", "Action", "Magnitude", "Score", "Price", "Headline")))
	b.WriteString("\n")
	for _, e := range lb.Entries {
		action := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(e.Color.String()))
		score := gainStyle
		if strings.HasPrefix(e.Score, "-") {
			score = lossStyle
		}
		fmt.Fprintf(&b, "%3d  %-10s  %s  %9s  %s  %s  %s\n",
			e.Rank,
			e.Date,
			action.Render(fmt.Sprintf("%-15s", e.Label)),
			e.Magnitude,
			score.Render(fmt.Sprintf("%7s", e.Score)),
			priceStyle.Render(fmt.Sprintf("%10s", e.Price)),
			dashboard.Truncate(e.Headline, 60),
		)
	}
	return b.String()
}

func renderMacro(m *httpapi.MacroResponse) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Macro indicators"))
	b.WriteString("\n")
	for _, c := range m.Indicators {
		if c.Model == nil {
			fmt.Fprintf(&b, "%-20s %s\n", c.Title, errorStyle.Render(c.Error))
			continue
		}
		last := "-"
		if n := c.Model.Len(); n > 0 {
			last = c.Model.Timestamps[n-1]
		}
		line := fmt.Sprintf("%-20s %5d points  last %s", c.Title, c.Model.Len(), last)
		if c.Error != "" {
			line += "  " + errorStyle.Render("stale: "+c.Error)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
