package resultserver

import (
	"context"
	"io"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// truncationMarker is appended once to a capped upload so downstream
// processing can tell a truncated artifact from a complete one.
const truncationMarker = "... (truncated)"

// writeLimiter caps the number of bytes written to the underlying sink.
// Writes past the budget are silently dropped after a one-time marker;
// truncation is a normal outcome, never an error.
type writeLimiter struct {
	ctx    context.Context
	w      io.Writer
	remain int64
	warned bool
}

func newWriteLimiter(ctx context.Context, w io.Writer, limit int64) *writeLimiter {
	return &writeLimiter{ctx: ctx, w: w, remain: limit}
}

// Write reports the full length as consumed so the copy loop keeps draining
// the connection even after the cap is reached.
func (l *writeLimiter) Write(p []byte) (int, error) {
	n := int64(len(p))
	keep := n
	if keep > l.remain {
		keep = l.remain
	}
	if keep > 0 {
		if _, err := l.w.Write(p[:keep]); err != nil {
			return 0, err
		}
		l.remain -= keep
	}
	if n > keep && !l.warned {
		logger.WarnCtx(l.ctx, "uploaded file larger than upload_max_size, stopping upload")
		if _, err := io.WriteString(l.w, truncationMarker); err != nil {
			return 0, err
		}
		l.warned = true
	}
	return int(n), nil
}

// Truncated reports whether the cap was hit.
func (l *writeLimiter) Truncated() bool {
	return l.warned
}
