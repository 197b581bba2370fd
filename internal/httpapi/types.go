// Package httpapi serves chart models, crosshair overlays, rendered PNGs,
// event leaderboards and macro indicators over HTTP, plus a WebSocket
// stream applying last-request-wins per connection.
package httpapi

import (
	"marketpulse/internal/chart"
	"marketpulse/internal/dashboard"
	"marketpulse/internal/macro"
	"marketpulse/internal/source"
)

// ChartResponse is the body of GET /api/chart/{ticker}.
type ChartResponse struct {
	Request     source.Request `json:"request"`
	Model       *chart.Model   `json:"model"`
	Events      []chart.Event  `json:"events"`
	TotalEvents int            `json:"totalEvents"`
}

// CrosshairResponse is the body of GET /api/chart/{ticker}/crosshair.
type CrosshairResponse struct {
	Index    int                 `json:"index"`
	Active   bool                `json:"active"`
	Label    string              `json:"label,omitempty"`
	Plot     chart.Rect          `json:"plot"`
	Commands []chart.DrawCommand `json:"commands"`
	Readout  []chart.Reading     `json:"readout"`
}

// EventsResponse is the body of GET /api/events/{ticker}.
type EventsResponse struct {
	Request source.Request `json:"request"`
	dashboard.Leaderboard
}

// MacroResponse is the body of GET /api/macro.
type MacroResponse struct {
	Indicators []macro.Chart `json:"indicators"`
}

// SnapshotsResponse is the body of GET /api/snapshots.
type SnapshotsResponse struct {
	Snapshots []dashboard.SnapshotInfo `json:"snapshots"`
}

// WatchlistResponse is the body of GET /api/watchlist.
type WatchlistResponse struct {
	Instruments []source.Request `json:"instruments"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Error kinds reported in ErrorResponse.Kind and stream messages.
const (
	KindFetch        = "fetch"
	KindDataShape    = "data_shape"
	KindAxisMismatch = "axis_mismatch"
	KindInternal     = "internal"
)

// ---------------------------------------------------------------------------
// Stream messages
// ---------------------------------------------------------------------------

// Message types on /api/stream.
const (
	MsgSelect = "select"
	MsgView   = "view"
	MsgMacro  = "macro"
	MsgError  = "error"
)

// ClientMessage is sent by stream clients to choose an instrument.
type ClientMessage struct {
	Type    string `json:"type"`
	Company string `json:"company,omitempty"`
	Ticker  string `json:"ticker"`
	Window  string `json:"window,omitempty"`
}

// ViewMessage carries one session transition to a stream client.
type ViewMessage struct {
	Type    string         `json:"type"`
	Seq     uint64         `json:"seq"`
	Status  string         `json:"status"`
	Request source.Request `json:"request"`
	Chart   *ChartResponse `json:"chart,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
}

// ErrorMessage reports a rejected client message.
type ErrorMessage struct {
	Type string `json:"type"`
	ErrorResponse
}

// MacroMessage announces refreshed macro indicators to every stream client.
type MacroMessage struct {
	Type       string        `json:"type"`
	Indicators []macro.Chart `json:"indicators"`
}
