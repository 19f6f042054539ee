// Package ws implements two periodic WebSocket push channels: a depth-5
// book snapshot and the last 5 trades, each broadcast at 1Hz, with
// ping/pong and error-message handling on every connection.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/snapshot"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// A single-page app served from another origin is the expected
	// client; this is a push-only market data feed, not an
	// authenticated session.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Interval is the push cadence for both channels.
const Interval = time.Second

// Hub serves the snapshot and trades push channels.
type Hub struct {
	snap *snapshot.Service
}

// New constructs a Hub backed by snap.
func New(snap *snapshot.Service) *Hub {
	return &Hub{snap: snap}
}

type clientMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServeSnapshot upgrades the connection and streams depth-5 book snapshots
// at Interval until the client disconnects or ctx is cancelled.
func (h *Hub) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(ctx context.Context) (any, error) {
		depth, err := h.snap.GetSnapshot(ctx, snapshot.PushDepth)
		if err != nil {
			return nil, err
		}
		return struct {
			Bids []snapshot.PriceLevel `json:"bids"`
			Asks []snapshot.PriceLevel `json:"asks"`
		}{Bids: depth.Bids, Asks: depth.Asks}, nil
	})
}

// ServeTrades upgrades the connection and streams the last 5 committed
// trades at Interval until the client disconnects or ctx is cancelled.
func (h *Hub) ServeTrades(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(ctx context.Context) (any, error) {
		trades, err := h.snap.RecentTrades(ctx, snapshot.PushTradeCount)
		if err != nil {
			return nil, err
		}
		return struct {
			Trades any `json:"trades"`
		}{Trades: trades}, nil
	})
}

// serve owns one connection's lifetime: an inbound reader that answers
// ping/error messages, and an outbound ticker that calls payload once a
// second. Both are supervised by a private tomb so a failure on either
// side tears down the connection cleanly.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, payload func(ctx context.Context) (any, error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var t tomb.Tomb
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	t.Go(func() error {
		return readLoop(&t, conn)
	})
	t.Go(func() error {
		return writeLoop(&t, ctx, conn, payload)
	})
	// Unblock the read loop's ReadMessage call once either side tears the
	// tomb down — otherwise a write failure never stops the reader.
	t.Go(func() error {
		<-t.Dying()
		conn.Close()
		return nil
	})

	<-t.Dying()
	if err := t.Wait(); err != nil && err != context.Canceled {
		log.Debug().Err(err).Msg("websocket connection closed")
	}
}

// readLoop answers client messages per the original consumers.py
// semantics: {"type":"ping"} gets {"type":"pong"}, any other well-formed
// payload gets an "Unknown message type" error, and malformed text gets
// an "Invalid JSON" error.
func readLoop(t *tomb.Tomb, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			if writeErr := writeJSON(conn, serverMessage{Type: "error", Message: "Invalid JSON"}); writeErr != nil {
				return writeErr
			}
			continue
		}

		switch msg.Type {
		case "ping":
			if err := writeJSON(conn, serverMessage{Type: "pong"}); err != nil {
				return err
			}
		default:
			if err := writeJSON(conn, serverMessage{Type: "error", Message: "Unknown message type"}); err != nil {
				return err
			}
		}

		select {
		case <-t.Dying():
			return nil
		default:
		}
	}
}

func writeLoop(t *tomb.Tomb, ctx context.Context, conn *websocket.Conn, payload func(ctx context.Context) (any, error)) error {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v, err := payload(ctx)
			if err != nil {
				log.Error().Err(err).Msg("building push payload")
				continue
			}
			if err := writeJSON(conn, v); err != nil {
				return err
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	return conn.WriteJSON(v)
}
