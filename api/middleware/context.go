package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxUserID    contextKey = "user_id"
	ctxRequestID contextKey = "request_id"
	ctxExpiry    contextKey = "token_expiry"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// ActorID returns the authenticated user as a uuid. ok is false when the
// request carried no valid identity.
func ActorID(ctx context.Context) (uuid.UUID, bool) {
	raw := UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// TokenExpiry returns when the caller's access token stops being accepted.
func TokenExpiry(ctx context.Context) (time.Time, bool) {
	if ctx == nil {
		return time.Time{}, false
	}
	at, ok := ctx.Value(ctxExpiry).(time.Time)
	return at, ok
}

func withTokenExpiry(ctx context.Context, at time.Time) context.Context {
	return context.WithValue(ctx, ctxExpiry, at)
}
