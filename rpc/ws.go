package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"storechain/core/events"
	"storechain/crypto"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// handleEventsWS streams committed events. ?type= narrows the feed to one
// event type and ?store= to events carrying that store attribute.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled", nil)
		return
	}
	eventType := strings.TrimSpace(r.URL.Query().Get("type"))
	var storeFilter string
	if raw := strings.TrimSpace(r.URL.Query().Get("store")); raw != "" {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid store", err)
			return
		}
		storeFilter = crypto.HexAddress(addr)
	}
	// Subscribe before the upgrade so nothing committed after the handshake
	// is missed.
	updates, cancel := s.stream.Subscribe()
	defer cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Debug("websocket accept failed", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Reads are ignored; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates, eventType, storeFilter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan events.Event, eventType, storeFilter string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			typed := events.ToTyped(evt)
			if typed == nil {
				continue
			}
			if eventType != "" && typed.Type != eventType {
				continue
			}
			if storeFilter != "" && typed.Attributes["store"] != storeFilter {
				continue
			}
			if err := writeEvent(ctx, conn, EventView{Type: typed.Type, Attributes: typed.Attributes}); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, view EventView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
