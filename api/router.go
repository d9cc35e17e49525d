// Package api exposes the context-window control surface over HTTP for
// the session display widget and operator tooling.
package api

import (
	"net/http"

	"github.com/ctxwindow/ctxwindow"
)

// Config holds API router configuration.
type Config struct {
	// Logger for structured logging.
	Logger Logger
}

// Logger interface for structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// router holds the API router state.
type router struct {
	client *ctxwindow.Client
	config *Config
}

// NewRouter creates the API router over a Client.
func NewRouter(client *ctxwindow.Client, cfg *Config) http.Handler {
	if cfg == nil {
		cfg = &Config{}
	}

	r := &router{client: client, config: cfg}

	mux := http.NewServeMux()

	// Sessions
	mux.HandleFunc("POST /sessions", r.handleCreateSession)

	// Context window
	mux.HandleFunc("GET /context/{session_id}/status", r.handleStatus)
	mux.HandleFunc("POST /context/{session_id}/compact", r.handleCompact)
	mux.HandleFunc("POST /context/{session_id}/auto-compact/enable", r.handleAutoCompactEnable)
	mux.HandleFunc("POST /context/{session_id}/auto-compact/disable", r.handleAutoCompactDisable)
	mux.HandleFunc("GET /context/{session_id}/events", r.handleEvents)

	// Checkpoints
	mux.HandleFunc("POST /checkpoint/{session_id}", r.handleCheckpoint)
	mux.HandleFunc("POST /checkpoint/{session_id}/recover", r.handleRecover)

	// Handoff
	mux.HandleFunc("POST /handoff/{session_id}", r.handleHandoff)

	return withMiddleware(mux, cfg)
}

// withMiddleware wraps the handler with common middleware.
func withMiddleware(handler http.Handler, cfg *Config) http.Handler {
	handler = jsonMiddleware(handler)
	handler = recoveryMiddleware(handler, cfg.Logger)
	return handler
}

// jsonMiddleware sets JSON content type for all responses.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func recoveryMiddleware(next http.Handler, logger Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if logger != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				}
				http.Error(w, `{"error":{"code":"internal_error","message":"internal server error"}}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
