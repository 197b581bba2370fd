package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/market"
	"marketpulse/internal/session"
	"marketpulse/internal/source"
)

const (
	pingInterval = 45 * time.Second
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// handleStream upgrades to a WebSocket bound to its own session. Each
// select message starts a load; only the latest selection's result is
// delivered as ready or error. Macro refreshes are broadcast to every
// connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := session.New(s.fetcher, s.builder(kind), s.log)
	defer sess.Close()
	_, views := sess.Subscribe(16)

	c := &client{send: make(chan []byte, 16)}
	if !s.hub.add(c) {
		return
	}
	defer s.hub.remove(c)

	replies := make(chan any, 4)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(conn, kind, views, c.send, replies, done)
	}()

	s.log.Info("stream connected", "remote", r.RemoteAddr, "kind", kind)
	s.readPump(r, conn, sess, replies)
	close(done)
	<-writerDone
	s.log.Info("stream disconnected", "remote", r.RemoteAddr)
}

// readPump handles client messages until the connection fails.
func (s *Server) readPump(r *http.Request, conn *websocket.Conn, sess *session.Session, replies chan<- any) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			reply(replies, ErrorResponse{Error: "invalid message: " + err.Error(), Kind: KindInternal})
			continue
		}
		if msg.Type != MsgSelect {
			continue
		}
		window, err := market.ParseWindow(msg.Window)
		if err != nil {
			reply(replies, ErrorResponse{Error: err.Error(), Kind: KindInternal})
			continue
		}
		req := source.Request{Company: msg.Company, Ticker: msg.Ticker, Window: window}.Normalize()
		if req.Ticker == "" {
			reply(replies, ErrorResponse{Error: "missing ticker", Kind: KindInternal})
			continue
		}
		sess.Select(r.Context(), req)
	}
}

func reply(replies chan<- any, resp ErrorResponse) {
	select {
	case replies <- ErrorMessage{Type: MsgError, ErrorResponse: resp}:
	default:
		// Slow client, drop.
	}
}

// writePump is the only writer on conn. It returns when done is closed,
// the session or hub closes its channel, or a write fails.
func (s *Server) writePump(conn *websocket.Conn, kind string, views <-chan session.View, hub <-chan []byte, replies <-chan any, done <-chan struct{}) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	// Unblock the reader when the writer gives up first.
	defer conn.Close()

	for {
		var err error
		select {
		case <-done:
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			err = s.writeJSONMessage(conn, s.viewMessage(kind, v))
		case data, ok := <-hub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err = conn.WriteMessage(websocket.TextMessage, data)
		case msg := <-replies:
			err = s.writeJSONMessage(conn, msg)
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			s.log.Debug("stream write failed", "error", err)
			return
		}
	}
}

func (s *Server) writeJSONMessage(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// viewMessage converts a session view for the wire. Ready snapshots are
// also stored in the chart cache.
func (s *Server) viewMessage(kind string, v session.View) ViewMessage {
	msg := ViewMessage{
		Type:    MsgView,
		Seq:     v.Seq,
		Status:  v.Status.String(),
		Request: v.Request,
	}
	switch v.Status {
	case session.StatusReady:
		s.store(cacheKey(kind, v.Request), v.Snapshot)
		msg.Chart = chartResponse(v.Request, v.Snapshot)
	case session.StatusError:
		resp := errorResponse(v.Err)
		msg.Error = &resp
	}
	return msg
}
