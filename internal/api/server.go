// Package api exposes the retrieval pipeline over a JSON HTTP API.
//
// Endpoints:
//
//	POST /api/v1/query          ask a question, get a grounded answer
//	POST /api/v1/rebuild        start a background index rebuild (202/409)
//	GET  /api/v1/rebuild/status current rebuild state
//	GET  /health                liveness probe
//	GET  /ready                 readiness probe (database ping)
//
// Health probes sit outside the middleware stack so orchestrators are
// never rate limited or logged per poll.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Retriever   Retriever     // Required
	Answerer    Answerer      // Required
	Rebuilder   Rebuilder     // Required
	Pool        *pgxpool.Pool // Optional: nil degrades /ready to liveness
	ExpandQuery bool          // Expand queries with the LLM before retrieval
	TrustProxy  bool          // Trust X-Real-IP/X-Forwarded-For headers
	RateRPS     float64       // Tokens per second per IP (0 = default 10)
	RateBurst   int           // Rate limiter burst per IP (0 = default 20)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.Answerer == nil {
		return nil, errors.New("answerer is required")
	}
	if cfg.Rebuilder == nil {
		return nil, errors.New("rebuilder is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	qh := &queryHandler{
		retriever:   cfg.Retriever,
		answerer:    cfg.Answerer,
		expandQuery: cfg.ExpandQuery,
		logger:      logger,
	}
	rh := &rebuildHandler{rebuilder: cfg.Rebuilder, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/query", qh.ask)
	mux.HandleFunc("POST /api/v1/rebuild", rh.start)
	mux.HandleFunc("GET /api/v1/rebuild/status", rh.status)

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → RateLimit → Routes
	// RequestID must come before Logging so request_id is available in
	// log attributes.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
