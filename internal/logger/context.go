package logger

import "context"

// LogContext carries request-scoped fields that should ride along on every
// log line emitted while handling a given LOCK/LOCKU/LOCKT call, without
// threading them through every function signature.
type LogContext struct {
	ClientID uint64
	FileKey  string
	Op       string
}

type logContextKey struct{}

// WithContext attaches lc to ctx for later retrieval by FromContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey{}, lc)
}

// FromContext returns the LogContext attached to ctx, or nil if none.
func FromContext(ctx context.Context) *LogContext {
	lc, _ := ctx.Value(logContextKey{}).(*LogContext)
	return lc
}
