package server

import (
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// handleStream serves the session event stream over SSE, one event per line.
// The connection ends when the session stream closes or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := sess.Subscribe()
	defer cancel()

	s.log.Info().Str("session_id", sess.ID).Msg("SSE client connected")

	done := r.Context().Done()
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-done:
			s.log.Info().Str("session_id", sess.ID).Msg("SSE client disconnected")
			return

		case raw, open := <-ch:
			if !open {
				// Session stream ended; the terminal event was already sent.
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()

		case <-keepalive.C:
			// Comment line: keeps proxies from cutting idle connections
			// without injecting anything into the event stream.
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleWebSocket serves the same event stream over a WebSocket, one text
// message per event.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	ch, cancel := sess.Subscribe()
	defer cancel()

	s.log.Info().Str("session_id", sess.ID).Msg("websocket client connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, open := <-ch:
			if !open {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed, dropping client")
				return
			}
		}
	}
}
