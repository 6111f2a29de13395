// Package server exposes HTTP handlers: the WebSocket transport upgrade and
// the health check.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
}

// WebSocketHandler upgrades GET requests and runs a session over binary
// WebSocket messages, one protocol frame per message.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.ctx.Err() != nil {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	s.serveTransport(newWebSocketTransport(conn, r.RemoteAddr, s.cfg.MaxFrameSize, s.logger))
}
