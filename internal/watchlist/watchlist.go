// Package watchlist keeps the set of instruments the server preloads on a
// schedule. Lists live in memory (seeded from CSV) or in an Alpaca account
// watchlist.
package watchlist

import (
	"context"
	"sort"
	"strings"
	"sync"

	"marketpulse/internal/source"
)

// Store is a mutable list of instruments keyed by ticker.
type Store interface {
	List(ctx context.Context) ([]source.Request, error)
	Add(ctx context.Context, req source.Request) error
	Remove(ctx context.Context, ticker string) error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Alpaca)(nil)
)

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]source.Request
}

// NewMemory creates a Memory store holding reqs.
func NewMemory(reqs ...source.Request) *Memory {
	m := &Memory{items: make(map[string]source.Request, len(reqs))}
	for _, r := range reqs {
		r = r.Normalize()
		m.items[r.Ticker] = r
	}
	return m
}

// List returns the instruments sorted by ticker.
func (m *Memory) List(_ context.Context) ([]source.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]source.Request, 0, len(m.items))
	for _, r := range m.items {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

// Add inserts or replaces the instrument.
func (m *Memory) Add(_ context.Context, req source.Request) error {
	req = req.Normalize()
	m.mu.Lock()
	m.items[req.Ticker] = req
	m.mu.Unlock()
	return nil
}

// Remove deletes the instrument if present.
func (m *Memory) Remove(_ context.Context, ticker string) error {
	m.mu.Lock()
	delete(m.items, strings.ToUpper(strings.TrimSpace(ticker)))
	m.mu.Unlock()
	return nil
}
