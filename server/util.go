package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// defaultAllowedOrigins apply when none are configured
var defaultAllowedOrigins = []string{"http://localhost", "https://localhost", "http://127.0.0.1"}

// newUpgrader creates a WebSocket upgrader with origin checking from config
func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates the request origin against the configured allowed
// origins. Prefix matching allows any port.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Direct clients (workers, curl, tests) send no origin
	if origin == "" {
		return true
	}

	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = defaultAllowedOrigins
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
