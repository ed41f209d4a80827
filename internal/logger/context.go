package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds connection-scoped logging context. Every log line emitted
// while handling a result connection carries the task and client identity.
type LogContext struct {
	TaskID    int64     // task the connection is bound to
	ClientIP  string    // peer VM address (without port)
	Command   string    // negotiated sub-protocol (FILE, LOG, BSON, REALTIME)
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context carrying the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a connection from the given task and peer
func NewLogContext(taskID int64, clientIP string) *LogContext {
	return &LogContext{
		TaskID:    taskID,
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
