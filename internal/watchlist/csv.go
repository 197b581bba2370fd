package watchlist

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"marketpulse/internal/market"
	"marketpulse/internal/source"
)

// LoadCSV reads a CSV of instruments to keep warm. The first line is
// a header; each following line is "company,ticker[,window]". Blank lines
// and lines starting with '#' are ignored.
func LoadCSV(path string) ([]source.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reqs []source.Request
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if line == 1 {
			continue // skip header
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, ",")
		if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
			return nil, fmt.Errorf("%s:%d: want company,ticker[,window]", path, line)
		}
		req := source.Request{Company: fields[0], Ticker: fields[1]}
		if len(fields) > 2 {
			w, err := market.ParseWindow(strings.TrimSpace(fields[2]))
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			req.Window = w
		}
		reqs = append(reqs, req.Normalize())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	slog.Info("loaded watchlist", "file", path, "instruments", len(reqs))
	return reqs, nil
}
