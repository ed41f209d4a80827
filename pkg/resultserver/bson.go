package resultserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// bsonStore receives the behavioral log stream of one monitored process
// into logs/<pid>.bson. A stream without a pid is tolerated but discarded.
type bsonStore struct {
	s      *Session
	header map[string]any
	pid    int64
	fd     *os.File
}

func newBsonStore(s *Session, header map[string]any) *bsonStore {
	return &bsonStore{s: s, header: header}
}

func (h *bsonStore) Open(ctx context.Context) error {
	pid, ok := headerPid(h.header)
	if !ok {
		logger.ErrorCtx(ctx, "behavioral log stream carries no pid, discarding")
		return nil
	}
	h.pid = pid

	// A monitor that reconnects for the same pid appends, so the earlier
	// part of the stream survives the reconnect.
	path := filepath.Join(h.s.storagePath, "logs", fmt.Sprintf("%d.bson", pid))
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	h.fd = fd
	return nil
}

func (h *bsonStore) Header() map[string]any { return h.header }

func (h *bsonStore) Handle(ctx context.Context) error {
	if h.fd == nil {
		return nil
	}
	logger.DebugCtx(ctx, "receiving behavioral log stream", logger.KeyPID, h.pid)
	_, err := h.s.rd.CopyTo(ctx, h.fd, 0)
	return err
}

func (h *bsonStore) Close() {
	if h.fd != nil {
		_ = h.fd.Close()
		h.fd = nil
	}
}

func headerPid(header map[string]any) (int64, bool) {
	switch v := header["pid"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
