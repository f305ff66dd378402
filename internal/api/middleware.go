// Package api provides the HTTP interface for UI collaborators.
package api

import (
	"net/http"

	"github.com/alunegov/hmi-emu/internal/adapter/config"
	"github.com/rs/zerolog"
)

// Middleware wraps handlers with the configured security checks.
type Middleware struct {
	config config.APIConfig
	logger zerolog.Logger
}

// NewMiddleware creates a new middleware with the given configuration.
func NewMiddleware(cfg config.APIConfig, logger zerolog.Logger) *Middleware {
	return &Middleware{
		config: cfg,
		logger: logger.With().Str("component", "api-middleware").Logger(),
	}
}

// RequireAuth checks the API key on requests that queue device access.
// If auth is disabled in config, the handler is called directly.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.config.AuthEnabled {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey == "" {
			m.logger.Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Msg("Missing API key")
			writeError(w, "API key required", http.StatusUnauthorized)
			return
		}
		if apiKey != m.config.APIKey {
			m.logger.Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Msg("Invalid API key")
			writeError(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LimitRequestBody caps the request body size.
func (m *Middleware) LimitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.MaxRequestBodySize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.config.MaxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// CORS sets the CORS headers for allowed origins and answers preflight
// requests.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if allowed := m.allowedOrigin(origin); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			} else {
				m.logger.Warn().Str("origin", origin).Msg("CORS: origin not allowed")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) allowedOrigin(origin string) string {
	if len(m.config.AllowedOrigins) == 0 {
		return "*"
	}
	for _, o := range m.config.AllowedOrigins {
		if o == "*" || o == origin {
			return origin
		}
	}
	return ""
}
