package source

import (
	"context"
	"database/sql"
	"fmt"

	"marketpulse/internal/market"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ Fetcher = (*SQLiteSource)(nil)

// SQLiteSource reads precomputed records from a local SQLite database.
// Numeric columns are untyped so non-numeric upstream values survive as
// text.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteSource(dbPath string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteSource{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func (s *SQLiteSource) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_records (
			ticker           TEXT NOT NULL,
			time_filter      TEXT NOT NULL,
			ts               TEXT NOT NULL,
			price,
			sentiment,
			fear_greed_score,
			correlation,
			action           TEXT,
			article_url      TEXT,
			title            TEXT,
			top_comment      TEXT,
			PRIMARY KEY (ticker, time_filter, ts)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Fetch returns the stored records for the request in timestamp order.
func (s *SQLiteSource) Fetch(ctx context.Context, req Request) ([]market.Record, error) {
	req = req.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, price, sentiment, fear_greed_score, correlation,
		       action, article_url, title, top_comment
		FROM market_records
		WHERE ticker = ? AND time_filter = ?
		ORDER BY ts`, req.Ticker, string(req.Window))
	if err != nil {
		return nil, &FetchError{Source: "sqlite", Target: req.Key(), Err: err}
	}
	defer rows.Close()

	records := []market.Record{}
	for rows.Next() {
		var r market.Record
		var price, sentiment, fearGreed, corr sql.NullString
		var action, articleURL, title, topComment sql.NullString
		if err := rows.Scan(&r.Timestamp, &price, &sentiment, &fearGreed, &corr,
			&action, &articleURL, &title, &topComment); err != nil {
			return nil, &FetchError{Source: "sqlite", Target: req.Key(), Err: fmt.Errorf("scan: %w", err)}
		}
		r.Price = nullNumber(price)
		r.Sentiment = nullNumber(sentiment)
		r.FearGreed = nullNumber(fearGreed)
		r.Correlation = nullNumber(corr)
		r.Action = market.Action(action.String)
		r.ArticleURL = articleURL.String
		r.Title = title.String
		r.TopComment = topComment.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &FetchError{Source: "sqlite", Target: req.Key(), Err: err}
	}
	return records, nil
}

// Put stores records for a request, replacing rows with the same
// timestamp. It is used by snapshot loaders and fixtures.
func (s *SQLiteSource) Put(ctx context.Context, req Request, records []market.Record) error {
	req = req.Normalize()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO market_records
		(ticker, time_filter, ts, price, sentiment, fear_greed_score, correlation,
		 action, article_url, title, top_comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, req.Ticker, string(req.Window), r.Timestamp,
			numberValue(r.Price), numberValue(r.Sentiment), numberValue(r.FearGreed), numberValue(r.Correlation),
			string(r.Action), r.ArticleURL, r.Title, r.TopComment); err != nil {
			return fmt.Errorf("insert %s: %w", r.Timestamp, err)
		}
	}
	return tx.Commit()
}

// numberValue maps a Number onto a SQLite value: REAL when valid, TEXT
// holding the raw value otherwise, NULL when absent.
func numberValue(n market.Number) any {
	if n.Valid() {
		return n.Float()
	}
	if n.Raw() == "" {
		return nil
	}
	return n.Raw()
}

func nullNumber(ns sql.NullString) market.Number {
	if !ns.Valid {
		return market.Number{}
	}
	return market.ParseNumber(ns.String)
}
