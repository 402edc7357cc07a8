// Package reqctx carries request-scoped metadata and the request logger through
// context.Context.
package reqctx

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	RequestIDHeader = "X-Request-Id"
	// UserIDHeader is set by the authenticating proxy in front of the API.
	UserIDHeader = "X-User-Id"
)

// Metadata describes the request currently being handled.
type Metadata struct {
	RequestID      string
	UserID         uuid.UUID
	IdempotencyKey string
}

type metadataKey struct{}

// WithMetadata returns a copy of ctx carrying md and a logger enriched with its fields.
func WithMetadata(ctx context.Context, md Metadata) context.Context {
	ctx = context.WithValue(ctx, metadataKey{}, md)

	lc := Logger(ctx).With()
	if md.RequestID != "" {
		lc = lc.Str("request_id", md.RequestID)
	}
	if md.UserID != uuid.Nil {
		lc = lc.Str("user_id", md.UserID.String())
	}
	if md.IdempotencyKey != "" {
		lc = lc.Str("idempotency_key", md.IdempotencyKey)
	}
	logger := lc.Logger()
	return logger.WithContext(ctx)
}

// FromContext returns the metadata stored in ctx, if any.
func FromContext(ctx context.Context) (Metadata, bool) {
	md, ok := ctx.Value(metadataKey{}).(Metadata)
	return md, ok
}

// WithIdempotencyKey records the idempotency key on the request metadata.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	md, _ := FromContext(ctx)
	md.IdempotencyKey = key
	ctx = context.WithValue(ctx, metadataKey{}, md)

	logger := Logger(ctx).With().Str("idempotency_key", key).Logger()
	return logger.WithContext(ctx)
}

// Logger returns the logger attached to ctx, falling back to the global logger.
func Logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// Middleware assigns a request id, reads the authenticated user id forwarded by the
// upstream proxy, and attaches both to the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		md := Metadata{RequestID: r.Header.Get(RequestIDHeader)}
		if md.RequestID == "" {
			md.RequestID = uuid.NewString()
		}
		if raw := r.Header.Get(UserIDHeader); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				md.UserID = id
			}
		}
		w.Header().Set(RequestIDHeader, md.RequestID)

		next.ServeHTTP(w, r.WithContext(WithMetadata(r.Context(), md)))
	})
}
