package resultserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// fileHeaderTimeout bounds the line-framed part of a FILE negotiation. The
// body transfer that follows has no timeout; slow uploads are aborted only
// by task tear-down.
const fileHeaderTimeout = 30 * time.Second

// journalName is the per-task JSON-lines journal of uploaded files.
const journalName = "files.json"

// fileUpload receives a single artifact into the task directory.
//
// Three header generations are on the wire. The current agent sends a JSON
// object; version 1 sent no header and the path on a following line;
// version 2 sent the literal "2" followed by three lines (path, original VM
// path, comma-separated pid list). All three must keep working.
type fileUpload struct {
	s       *Session
	raw     any
	header  map[string]any
	maxSize int64
	fd      *os.File
}

func newFileUpload(s *Session, header any, maxSize int64) *fileUpload {
	return &fileUpload{s: s, raw: header, maxSize: maxSize}
}

func (h *fileUpload) Open(ctx context.Context) error { return nil }

func (h *fileUpload) Header() map[string]any { return h.header }

func (h *fileUpload) Handle(ctx context.Context) error {
	// The framing lines get a deadline; the body does not.
	_ = h.s.conn.SetReadDeadline(time.Now().Add(fileHeaderTimeout))

	if err := h.resolveHeader(ctx); err != nil {
		return err
	}

	storeAs, _ := h.header["store_as"].(string)
	if storeAs == "" {
		return fmt.Errorf("no dump path specified for file upload")
	}
	dumpPath, err := SanitizePath(storeAs)
	if err != nil {
		return err
	}

	logger.DebugCtx(ctx, "file upload", logger.KeyPath, dumpPath)

	dest := filepath.Join(h.s.storagePath, filepath.FromSlash(dumpPath))
	fd, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrOverwrite, dumpPath)
		}
		return fmt.Errorf("open artifact %s: %w", dumpPath, err)
	}
	h.fd = fd

	if err := h.appendJournal(dumpPath); err != nil {
		return err
	}

	_ = h.s.conn.SetReadDeadline(time.Time{})

	// A zero cap means uncapped, write straight to the file.
	var sink io.Writer = fd
	var lim *writeLimiter
	if h.maxSize > 0 {
		lim = newWriteLimiter(ctx, fd, h.maxSize)
		sink = lim
	}
	n, cpErr := h.s.rd.CopyTo(ctx, sink, 0)

	logger.DebugCtx(ctx, "uploaded file",
		logger.KeyPath, dumpPath, logger.KeyBytesWritten, n)
	h.s.metrics.AddUploadBytes(n)
	if lim != nil && lim.Truncated() {
		h.s.metrics.IncTruncated()
	}
	return cpErr
}

func (h *fileUpload) Close() {
	if h.fd != nil {
		_ = h.fd.Close()
		h.fd = nil
	}
}

// resolveHeader normalizes the three header generations into h.header.
func (h *fileUpload) resolveHeader(ctx context.Context) error {
	switch v := h.raw.(type) {
	case nil:
		// Version 1: the path arrives on the next line.
		storeAs, err := h.s.rd.ReadLine(ctx)
		if err != nil {
			return fmt.Errorf("read store_as line: %w", err)
		}
		h.header = map[string]any{"store_as": storeAs}

	case float64:
		// Version 2: literal "2", then three lines.
		if v != 2 {
			return fmt.Errorf("unsupported file upload header version %v", v)
		}
		storeAs, err := h.s.rd.ReadLine(ctx)
		if err != nil {
			return fmt.Errorf("read store_as line: %w", err)
		}
		origPath, err := h.s.rd.ReadLine(ctx)
		if err != nil {
			return fmt.Errorf("read path line: %w", err)
		}
		pidLine, err := h.s.rd.ReadLine(ctx)
		if err != nil {
			return fmt.Errorf("read pids line: %w", err)
		}
		pids, err := parsePidList(pidLine)
		if err != nil {
			return err
		}
		h.header = map[string]any{"store_as": storeAs, "path": origPath, "pids": pids}

	case map[string]any:
		h.header = v
		if rid, ok := v["rid"]; ok && rid != nil {
			h.s.responseID = rid
		}

	default:
		return fmt.Errorf("unsupported file upload header %v", h.raw)
	}
	return nil
}

// appendJournal records the upload in files.json. The single short write on
// an O_APPEND descriptor is atomic, so concurrent uploads for the same task
// may interleave lines but never corrupt one.
func (h *fileUpload) appendJournal(dumpPath string) error {
	entry := struct {
		Path     string  `json:"path"`
		Filepath *string `json:"filepath"`
		Pids     []int64 `json:"pids"`
	}{
		Path: dumpPath,
		Pids: headerPids(h.header),
	}
	if p, ok := h.header["path"].(string); ok {
		entry.Filepath = &p
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	data = append(data, '\n')

	fd, err := os.OpenFile(filepath.Join(h.s.storagePath, journalName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", journalName, err)
	}
	defer fd.Close()

	if _, err := fd.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", journalName, err)
	}
	return nil
}

// headerPids extracts the pid list from a header regardless of which
// generation produced it.
func headerPids(header map[string]any) []int64 {
	pids := []int64{}
	switch v := header["pids"].(type) {
	case []int64:
		pids = v
	case []any:
		for _, p := range v {
			if f, ok := p.(float64); ok {
				pids = append(pids, int64(f))
			}
		}
	}
	return pids
}

// parsePidList parses the comma-separated pid list of a version 2 header.
func parsePidList(line string) ([]int64, error) {
	pids := []int64{}
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pid, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid pid list %q: %w", line, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
