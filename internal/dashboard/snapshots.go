package dashboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"marketpulse/internal/market"
)

// SnapshotInfo describes one stored Parquet record snapshot.
type SnapshotInfo struct {
	Ticker  string        `json:"ticker"`
	Window  market.Window `json:"window"`
	Size    int64         `json:"size"`
	ModTime time.Time     `json:"modTime"`
}

// ListSnapshots returns the snapshots under dataDir laid out as
// <TICKER>/<window>.parquet, sorted by ticker then window. Files whose
// name is not a known window are skipped.
func ListSnapshots(dataDir string) ([]SnapshotInfo, error) {
	tickers, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot dir: %w", err)
	}

	var out []SnapshotInfo
	for _, t := range tickers {
		if !t.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dataDir, t.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", t.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".parquet") {
				continue
			}
			name := strings.TrimSuffix(f.Name(), ".parquet")
			w, err := market.ParseWindow(name)
			if err != nil || name == "" {
				continue
			}
			info, err := f.Info()
			if err != nil {
				return nil, err
			}
			out = append(out, SnapshotInfo{
				Ticker:  t.Name(),
				Window:  w,
				Size:    info.Size(),
				ModTime: info.ModTime().UTC(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticker != out[j].Ticker {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].Window < out[j].Window
	})
	return out, nil
}
