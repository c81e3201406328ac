package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// ProgressStreamHandler handles GET /v1/bulk/jobs/progress/stream: a WebSocket
// pushing ProgressEvents for the caller's jobs until the client disconnects.
func (s *Server) ProgressStreamHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(p.Owner)
	defer s.Broker.Unsubscribe(p.Owner, ch)

	// Push the current state first so late subscribers see where the job is.
	if state, err := s.Bulk.Status(p.Owner); err == nil {
		_ = conn.WriteJSON(ProgressEvent{Type: "progress", State: state})
	}

	// Reader goroutine: drain control frames, signal close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 16)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
			if evt.Type == "finished" {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
