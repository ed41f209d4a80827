package resultserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// analysisLogName is the plain-text live log a task may stream exactly once.
const analysisLogName = "analysis.log"

// logHandler appends the agent's live output to analysis.log. The exclusive
// create makes the stream at-most-once per task: a second LOG connection is
// tolerated but everything it sends is discarded.
type logHandler struct {
	s  *Session
	fd *os.File
}

func newLogHandler(s *Session) *logHandler {
	return &logHandler{s: s}
}

func (h *logHandler) Open(ctx context.Context) error {
	path := filepath.Join(h.s.storagePath, analysisLogName)
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			logger.DebugCtx(ctx, "live analysis log already streaming, discarding duplicate")
			return nil
		}
		return fmt.Errorf("open %s: %w", analysisLogName, err)
	}
	h.fd = fd
	logger.DebugCtx(ctx, "live analysis log initialized", logger.KeyPath, path)
	return nil
}

func (h *logHandler) Header() map[string]any { return nil }

func (h *logHandler) Handle(ctx context.Context) error {
	if h.fd == nil {
		return nil
	}
	_, err := h.s.rd.CopyTo(ctx, h.fd, 0)
	return err
}

func (h *logHandler) Close() {
	if h.fd != nil {
		_ = h.fd.Close()
		h.fd = nil
	}
}
