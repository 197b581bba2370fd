package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"marketpulse/internal/market"
)

var _ Fetcher = (*ParquetSource)(nil)

// RecordRow is the Parquet schema for one stored record. Sentiment keeps
// its raw text when the upstream value was not numeric.
type RecordRow struct {
	Timestamp    string   `parquet:"timestamp"`
	Price        *float64 `parquet:"price,optional"`
	Sentiment    *float64 `parquet:"sentiment,optional"`
	SentimentRaw string   `parquet:"sentiment_raw,optional"`
	FearGreed    *float64 `parquet:"fear_greed_score,optional"`
	Correlation  *float64 `parquet:"correlation,optional"`
	Action       string   `parquet:"action,optional"`
	ArticleURL   string   `parquet:"article_url,optional"`
	Title        string   `parquet:"title,optional"`
	TopComment   string   `parquet:"top_comment,optional"`
}

// ParquetSource reads record snapshots laid out as
//
//	<DataDir>/<TICKER>/<window>.parquet
type ParquetSource struct {
	DataDir string
}

// NewParquetSource creates a ParquetSource rooted at dataDir.
func NewParquetSource(dataDir string) *ParquetSource {
	return &ParquetSource{DataDir: dataDir}
}

func (s *ParquetSource) path(req Request) string {
	return filepath.Join(s.DataDir, req.Ticker, string(req.Window)+".parquet")
}

// Fetch reads the snapshot file for the request. A missing file yields a
// FetchError wrapping os.ErrNotExist.
func (s *ParquetSource) Fetch(ctx context.Context, req Request) ([]market.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Source: "parquet", Target: req.Key(), Err: err}
	}
	req = req.Normalize()
	path := s.path(req)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, &FetchError{Source: "parquet", Target: path, Err: fmt.Errorf("no snapshot for %s: %w", req.Key(), os.ErrNotExist)}
	}
	rows, err := parquet.ReadFile[RecordRow](path)
	if err != nil {
		return nil, &FetchError{Source: "parquet", Target: path, Err: err}
	}

	records := make([]market.Record, len(rows))
	for i, row := range rows {
		records[i] = row.record()
	}
	return records, nil
}

// Put writes records as the snapshot for req, replacing any existing file.
func (s *ParquetSource) Put(req Request, records []market.Record) error {
	req = req.Normalize()
	path := s.path(req)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	rows := make([]RecordRow, len(records))
	for i, r := range records {
		rows[i] = toRow(r)
	}
	return parquet.WriteFile(path, rows)
}

func (row RecordRow) record() market.Record {
	r := market.Record{
		Timestamp:   row.Timestamp,
		Price:       ptrNumber(row.Price),
		Sentiment:   ptrNumber(row.Sentiment),
		FearGreed:   ptrNumber(row.FearGreed),
		Correlation: ptrNumber(row.Correlation),
		Action:      market.Action(row.Action),
		ArticleURL:  row.ArticleURL,
		Title:       row.Title,
		TopComment:  row.TopComment,
	}
	if row.Sentiment == nil && row.SentimentRaw != "" {
		r.Sentiment = market.Invalid(row.SentimentRaw)
	}
	return r
}

func toRow(r market.Record) RecordRow {
	row := RecordRow{
		Timestamp:   r.Timestamp,
		Price:       numberPtr(r.Price),
		Sentiment:   numberPtr(r.Sentiment),
		FearGreed:   numberPtr(r.FearGreed),
		Correlation: numberPtr(r.Correlation),
		Action:      string(r.Action),
		ArticleURL:  r.ArticleURL,
		Title:       r.Title,
		TopComment:  r.TopComment,
	}
	if !r.Sentiment.Valid() {
		row.SentimentRaw = r.Sentiment.Raw()
	}
	return row
}

func ptrNumber(p *float64) market.Number {
	if p == nil {
		return market.Number{}
	}
	return market.Num(*p)
}

func numberPtr(n market.Number) *float64 {
	if !n.Valid() {
		return nil
	}
	v := n.Float()
	return &v
}
