// Package server exposes HTTP handlers: the health check and the WebSocket
// upgrade that feeds the same connection state machine as raw TCP.
package server

import (
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades GET requests from allowed origins and hands the
// connection to the login state machine. Each binary WebSocket message
// carries exactly one frame.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.closing.IsSet() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	s.metrics.connections.WithLabelValues("websocket").Inc()
	t := newWSTransport(conn, r.RemoteAddr, s.cfg)
	if !s.startHandler(func() { s.handle(t, "websocket") }) {
		_ = t.Close()
	}
}

// HealthHandler reports that the server is up and how many sessions are
// registered.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "gorelay server is running! sessions=%d\n", s.registry.Len())
}
