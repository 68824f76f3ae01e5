package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"fluxrisk/core/events"
)

const wsWriteTimeout = 10 * time.Second

// handleEventStream replays retained events newer than ?cursor= and then
// forwards live ones until the client goes away.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeProblem(w, http.StatusServiceUnavailable, "unavailable", "event stream disabled")
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog := s.stream.Subscribe(ctx, cursor)
	defer cancel()

	for _, env := range backlog {
		if err := writeEnvelope(ctx, conn, env); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEnvelope(ctx, conn, env); err != nil {
				return err
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
