package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalhop/signalhop/internal/broker"
	"github.com/signalhop/signalhop/internal/metrics"
	"github.com/signalhop/signalhop/internal/signal"
)

const watchWriteWait = 1 * time.Second

// handleWatch upgrades to a WebSocket and pushes the watched handshake record
// whenever it appears or changes. The connection holds no rendezvous state:
// the server polls the store on the client's behalf, so a reconnecting client
// may land on any replica and observe the same sequence of values.
//
// Query parameters:
//   - kind: "offer" or "answer" (required)
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	room := r.PathValue("room")
	if !signal.ValidRoomID(room) {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "bad room id")
		return
	}
	kind, err := signal.ParseHandshakeKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.Metrics.Inc(metrics.WatchSessions)

	// The read loop exists only to notice the client going away; watch
	// clients are not expected to send anything.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.watchPollInterval())
	defer ticker.Stop()

	var lastSent []byte
	for {
		payload, err := s.Broker.FetchHandshake(r.Context(), room, kind)
		switch {
		case errors.Is(err, broker.ErrNotFound):
			// Not there yet; keep polling.
		case errors.Is(err, broker.ErrStoreUnavailable):
			// Transient; the next tick retries.
			s.logger().Warn("watch poll failed", "room", room, "kind", kind, "error", err)
		case err != nil:
			s.closeWatch(conn, websocket.CloseInternalServerErr, "internal error")
			return
		case !bytes.Equal(payload, lastSent):
			lastSent = payload
			if err := s.sendWatchEvent(conn, WatchEvent{Kind: string(kind), Payload: payload}); err != nil {
				return
			}
		}

		select {
		case <-ticker.C:
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) sendWatchEvent(conn *websocket.Conn, ev WatchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) closeWatch(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(watchWriteWait))
}

// WatchClient consumes a watch WebSocket: it connects, waits for the first
// event, and returns its payload. Used by peers that prefer a push over
// polling for the answer.
type WatchClient struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Await connects to url and blocks until the first watch event or ctx is
// done.
func (c *WatchClient) Await(ctx context.Context, url string) (json.RawMessage, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	var ev WatchEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev.Payload, nil
}
