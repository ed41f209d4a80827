package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently across
// all log statements so task activity can be filtered and correlated.
const (
	KeyTaskID   = "task_id"   // analysis task identifier
	KeyClientIP = "client_ip" // peer VM address
	KeyCommand  = "command"   // negotiated sub-protocol name

	KeyPath         = "path"          // artifact path (relative to task dir)
	KeyPID          = "pid"           // monitored process id (BSON streams)
	KeySize         = "size"          // byte count / size cap
	KeyBytesWritten = "bytes_written" // bytes written to disk

	KeyAddress    = "address" // listen or peer address
	KeyPort       = "port"    // listen port
	KeyError      = "error"   // error message
	KeyDurationMs = "duration_ms"
)

// TaskID returns a slog.Attr for an analysis task identifier
func TaskID(id int64) slog.Attr {
	return slog.Int64(KeyTaskID, id)
}

// ClientIP returns a slog.Attr for the peer VM address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Command returns a slog.Attr for the negotiated sub-protocol
func Command(cmd string) slog.Attr {
	return slog.String(KeyCommand, cmd)
}

// Path returns a slog.Attr for an artifact path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
