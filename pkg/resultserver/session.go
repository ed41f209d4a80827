package resultserver

import (
	"net"
	"sync"
)

// Dispatcher is the capability the result server holds on the real-time
// message consumer for a task. Start is invoked once when a REALTIME channel
// is established; OnMessage is invoked for every inbound message and once
// for each response envelope produced by a FILE upload carrying a rid. The
// envelope is not the upload header: it is a synthesized
// {"rid": .., "success": bool} map, with an "error" string when the upload
// failed.
type Dispatcher interface {
	Start(s *Session)
	OnMessage(msg map[string]any)
}

// Session is the per-connection state of one VM-to-server connection. It is
// the exclusive owner of its socket and carry buffer; the only operation
// other goroutines may perform on it is Cancel.
type Session struct {
	taskID      int64
	storagePath string
	conn        net.Conn
	rd          *connReader
	rt          Dispatcher

	command    string // negotiated sub-protocol, for diagnostics
	responseID any    // opaque rid from a FILE header, relayed on exit

	metrics    *Metrics
	cancelOnce sync.Once
}

func newSession(taskID int64, storagePath string, conn net.Conn, rt Dispatcher, m *Metrics) *Session {
	return &Session{
		taskID:      taskID,
		storagePath: storagePath,
		conn:        conn,
		rd:          &connReader{conn: conn},
		rt:          rt,
		metrics:     m,
	}
}

// TaskID returns the task this session is bound to.
func (s *Session) TaskID() int64 {
	return s.taskID
}

// Cancel aborts the session by shutting down the read half of its socket.
// Any blocked read observes end-of-stream, so every handler's copy loop
// exits cleanly and releases its file. Safe to call from other goroutines
// and idempotent.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.metrics.IncCancelled()
		type closeReader interface{ CloseRead() error }
		if cr, ok := s.conn.(closeReader); ok {
			_ = cr.CloseRead()
			return
		}
		_ = s.conn.Close()
	})
}

// Write sends data to the VM agent. Used by the real-time dispatcher to
// deliver commands over an established REALTIME channel. Blocks until the
// whole buffer is written.
func (s *Session) Write(data []byte) error {
	_, err := s.conn.Write(data)
	return err
}
