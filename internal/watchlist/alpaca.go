package watchlist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"marketpulse/internal/source"
)

// DefaultListName is the Alpaca watchlist used when none is configured.
const DefaultListName = "marketpulse"

// AlpacaClient is the subset of the Alpaca trading client used here.
type AlpacaClient interface {
	GetWatchlists() ([]alpacaapi.Watchlist, error)
	CreateWatchlist(req alpacaapi.CreateWatchlistRequest) (*alpacaapi.Watchlist, error)
	GetWatchlist(watchlistID string) (*alpacaapi.Watchlist, error)
	AddSymbolToWatchlist(watchlistID string, req alpacaapi.AddSymbolToWatchlistRequest) (*alpacaapi.Watchlist, error)
	RemoveSymbolFromWatchlist(watchlistID string, req alpacaapi.RemoveSymbolFromWatchlistRequest) error
}

// Alpaca stores the list in an Alpaca account watchlist. Entries carry
// only the ticker; the window is the default.
type Alpaca struct {
	client AlpacaClient
	name   string
	log    *slog.Logger

	mu sync.Mutex
	id string
}

// NewAlpaca creates a store backed by the named account watchlist.
func NewAlpaca(client AlpacaClient, name string, log *slog.Logger) *Alpaca {
	if name == "" {
		name = DefaultListName
	}
	if log == nil {
		log = slog.Default()
	}
	return &Alpaca{client: client, name: name, log: log.With("component", "watchlist")}
}

// NewAlpacaFromCredentials creates a store using the Alpaca trading API.
func NewAlpacaFromCredentials(apiKey, apiSecret, baseURL, name string, log *slog.Logger) *Alpaca {
	client := alpacaapi.NewClient(alpacaapi.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return NewAlpaca(client, name, log)
}

// listID finds the watchlist by name, creating it on first use.
func (a *Alpaca) listID() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id != "" {
		return a.id, nil
	}

	lists, err := a.client.GetWatchlists()
	if err != nil {
		return "", fmt.Errorf("listing watchlists: %w", err)
	}
	for _, w := range lists {
		if w.Name == a.name {
			a.id = w.ID
			a.log.Info("watchlist found", "id", w.ID)
			return a.id, nil
		}
	}

	w, err := a.client.CreateWatchlist(alpacaapi.CreateWatchlistRequest{Name: a.name})
	if err != nil {
		return "", fmt.Errorf("creating watchlist: %w", err)
	}
	a.id = w.ID
	a.log.Info("watchlist created", "id", w.ID)
	return a.id, nil
}

// List returns the watchlist's symbols sorted by ticker.
func (a *Alpaca) List(ctx context.Context) ([]source.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := a.listID()
	if err != nil {
		return nil, err
	}
	wl, err := a.client.GetWatchlist(id)
	if err != nil {
		return nil, fmt.Errorf("getting watchlist: %w", err)
	}

	out := make([]source.Request, 0, len(wl.Assets))
	for _, asset := range wl.Assets {
		out = append(out, source.Request{Ticker: asset.Symbol}.Normalize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

// Add appends the request's ticker to the watchlist.
func (a *Alpaca) Add(ctx context.Context, req source.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := a.listID()
	if err != nil {
		return err
	}
	symbol := req.Normalize().Ticker
	if _, err := a.client.AddSymbolToWatchlist(id, alpacaapi.AddSymbolToWatchlistRequest{Symbol: symbol}); err != nil {
		return fmt.Errorf("adding %s: %w", symbol, err)
	}
	return nil
}

// Remove deletes ticker from the watchlist.
func (a *Alpaca) Remove(ctx context.Context, ticker string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := a.listID()
	if err != nil {
		return err
	}
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if err := a.client.RemoveSymbolFromWatchlist(id, alpacaapi.RemoveSymbolFromWatchlistRequest{Symbol: symbol}); err != nil {
		return fmt.Errorf("removing %s: %w", symbol, err)
	}
	return nil
}
