package resultserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

const (
	// MaxLineLen caps the bytes buffered while waiting for a newline during
	// protocol negotiation, guarding against memory exhaustion.
	MaxLineLen = 4096

	// readChunkSize is the per-recv ceiling for body transfers.
	readChunkSize = 16 * 1024
)

// connReader wraps a connection with a carry buffer so that bytes received
// past a framing boundary are preserved for the next read. Cancellation of
// the session surfaces here: a read-side shutdown is translated into a
// clean end-of-stream, letting copy loops exit without special cases.
type connReader struct {
	conn net.Conn
	buf  []byte
}

// ReadLine consumes bytes until the next '\n' and returns the preceding
// bytes without the newline. Surplus bytes from the same recv stay in the
// carry buffer. Returns ErrLineTooLong if the buffer would exceed
// MaxLineLen without a newline, and io.EOF on clean peer close.
func (r *connReader) ReadLine(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			line := string(r.buf[:i])
			r.buf = r.buf[i+1:]
			return line, nil
		}
		if len(r.buf) >= MaxLineLen {
			return "", ErrLineTooLong
		}
		chunk, err := r.readChunk(ctx)
		if err != nil {
			return "", err
		}
		if len(chunk) == 0 {
			return "", io.EOF
		}
		r.buf = append(r.buf, chunk...)
	}
}

// Drain atomically returns and clears the carry buffer.
func (r *connReader) Drain() []byte {
	buf := r.buf
	r.buf = nil
	return buf
}

// Buffered reports how many unconsumed carry bytes remain. Non-zero after a
// handler returns means the peer and server disagree about framing.
func (r *connReader) Buffered() int {
	return len(r.buf)
}

// readChunk returns at most readChunkSize bytes, or an empty slice on clean
// close. Connection reset and reads after cancellation are expected
// conditions and also yield a clean empty result; every other I/O error is
// propagated.
func (r *connReader) readChunk(ctx context.Context) ([]byte, error) {
	buf := make([]byte, readChunkSize)
	n, err := r.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, nil
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EBADF) {
		return nil, nil
	}
	if errors.Is(err, syscall.ECONNRESET) {
		logger.DebugCtx(ctx, "connection reset by peer")
		return nil, nil
	}
	return nil, err
}

// CopyTo first flushes any carried bytes into the sink, then streams chunks
// until end of stream. A positive limit wraps the sink in a writeLimiter.
// Returns the number of bytes handed to the sink (pre-cap).
func (r *connReader) CopyTo(ctx context.Context, w io.Writer, limit int64) (int64, error) {
	if limit > 0 {
		w = newWriteLimiter(ctx, w, limit)
	}

	var total int64
	if buf := r.Drain(); len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return total, err
		}
		total += int64(n)
	}
	for {
		chunk, err := r.readChunk(ctx)
		if err != nil {
			return total, err
		}
		if len(chunk) == 0 {
			return total, nil
		}
		n, err := w.Write(chunk)
		if err != nil {
			return total, err
		}
		total += int64(n)
	}
}
