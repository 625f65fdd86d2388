// Package api exposes the conversation subsystem over HTTP: the per-session
// chat surface, the session registry, and health probes.
package api

import (
	"errors"
	"net/http"

	"github.com/promptforge/promptforge/internal/log"
	"github.com/promptforge/promptforge/internal/session"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Hub         *session.Hub // Required
	Logger      log.Logger   // Required
	CORSOrigins []string     // Allowed origins for CORS
	TrustProxy  bool         // Trust X-Real-IP/X-Forwarded-For headers
	RateLimit   float64      // Tokens/sec per IP (0 = default 10)
	RateBurst   int          // Rate limiter burst per IP (0 = default 30)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Hub == nil {
		return nil, errors.New("session hub is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	ch := &chatHandler{hub: cfg.Hub, logger: cfg.Logger}
	sh := &sessionsHandler{hub: cfg.Hub, logger: cfg.Logger}

	mux := http.NewServeMux()

	// Per-session conversation surface
	mux.HandleFunc("GET /api/chat/{sessionID}/messages", ch.getMessages)
	mux.HandleFunc("POST /api/chat/{sessionID}/chat", ch.send)
	mux.HandleFunc("POST /api/chat/{sessionID}/config", ch.updateConfig)
	mux.HandleFunc("DELETE /api/chat/{sessionID}/clear", ch.clear)

	// Session registry
	mux.HandleFunc("GET /api/sessions", sh.list)
	mux.HandleFunc("POST /api/sessions", sh.create)
	mux.HandleFunc("PUT /api/sessions/{sessionID}/title", sh.rename)
	mux.HandleFunc("DELETE /api/sessions/{sessionID}", sh.remove)

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	rl := newIPLimiter(limit, burst)

	// Middleware stack (outermost first):
	//   Recovery → Logging → CORS → RateLimit → Routes
	// CORS must be before RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, cfg.Logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(cfg.Logger)(handler)
	handler = recoveryMiddleware(cfg.Logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}
