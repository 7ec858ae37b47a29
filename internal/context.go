package internal

import (
	"context"
	"time"
)

type ctxKey string

const (
	ContextUserKey  ctxKey = "userID"
	ContextStaleKey ctxKey = "permissionsStale"
)

func UserIDFromContext(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	if userID, ok := ctx.Value(ContextUserKey).(int64); ok {
		return userID
	}
	return 0
}

func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ContextUserKey, userID)
}

// ContextWithStalePermissions marks the request as served from a permission snapshot
// that predates the latest role change.
func ContextWithStalePermissions(ctx context.Context, stale bool) context.Context {
	return context.WithValue(ctx, ContextStaleKey, stale)
}

func StalePermissionsFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	stale, _ := ctx.Value(ContextStaleKey).(bool)
	return stale
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
