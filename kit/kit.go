// Package kit is the transport-agnostic glue between fouille's service
// operations and the surfaces that expose them (MCP tools, HTTP handlers).
//
// An operation is wrapped as an Endpoint, decorated with Middleware, and
// registered on a transport.
package kit

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/fouille/idgen"
)

// Endpoint is one invocable operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// WithRequestID assigns a request ID from gen unless ctx already has one.
func WithRequestID(gen idgen.Generator) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestIDValue(ctx, gen())
			}
			return next(ctx, req)
		}
	}
}

// WithLogging logs every call of the named operation at Debug, and failures
// at Warn.
func WithLogging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"op", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: endpoint done", attrs...)
			}
			return resp, err
		}
	}
}
