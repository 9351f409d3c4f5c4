// CLAUDE:SUMMARY HTTP middleware for the fouille API: security headers, HEAD-as-GET, JSON body cap, request IDs with a per-request logger.
// Package shield provides the HTTP middleware stack placed in front of the
// fouille JSON API.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/fouille/idgen"
	"github.com/hazyhaar/fouille/kit"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultMaxBody caps JSON request bodies.
const DefaultMaxBody = 1 << 20

// APIStack returns the standard middleware stack, outermost first:
// HeadToGet → SecurityHeaders → MaxBody → RequestID.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
		RequestID(logger, idgen.Prefixed("req_", idgen.Default)),
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// HeadToGet converts HEAD requests to GET so that routes registered with
// r.Get() answer HEAD too. net/http strips the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBody limits every request body to maxBytes. Decoders see an error once
// the limit is crossed.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID tags each request with an ID (kept from an incoming X-Request-ID
// header when present), echoes it in the response, stores it under
// kit.RequestIDKey and attaches a scoped logger under LoggerKey.
func RequestID(logger *slog.Logger, gen idgen.Generator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 64 {
				id = gen()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := kit.WithRequestIDValue(r.Context(), id)
			ctx = kit.WithTransport(ctx, "http")
			l := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("shield: request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
