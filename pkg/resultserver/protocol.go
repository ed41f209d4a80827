package resultserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// protocolHandler is one of the four sub-protocols a connection can
// negotiate. Open acquires resources (typically the destination file),
// Handle runs the transfer, and Close releases the file on every exit path.
type protocolHandler interface {
	Open(ctx context.Context) error
	Handle(ctx context.Context) error
	Close()

	// Header returns the negotiated header object, if any. For FILE
	// uploads carrying a rid it is forwarded to the task's real-time
	// dispatcher as a response envelope after the handler returns.
	Header() map[string]any
}

// negotiate reads the first line of a connection and selects the matching
// sub-protocol handler. It returns (nil, nil) when the connection should be
// dropped without a handler: unknown command or malformed header, both
// already logged. Errors from the line read itself (EOF, overlong line) are
// returned to the caller.
func negotiate(ctx context.Context, s *Session, uploadMax int64) (protocolHandler, error) {
	line, err := s.rd.ReadLine(ctx)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 2)
	command := parts[0]

	var header any
	if len(parts) == 2 {
		if err := json.Unmarshal([]byte(parts[1]), &header); err != nil {
			logger.ErrorCtx(ctx, "invalid protocol header",
				"header", parts[1], logger.KeyError, err.Error())
			return nil, nil
		}
		// Older monitor builds send the BSON pid as a bare integer.
		if command == "BSON" && !strings.HasPrefix(strings.TrimSpace(parts[1]), "{") {
			header = map[string]any{"pid": header}
		}
	}

	s.command = command
	if lc := logger.FromContext(ctx); lc != nil {
		lc.Command = command
	}

	switch command {
	case "FILE":
		return newFileUpload(s, header, uploadMax), nil
	case "LOG":
		return newLogHandler(s), nil
	case "BSON":
		m, _ := header.(map[string]any)
		return newBsonStore(s, m), nil
	case "REALTIME":
		return newRealtimeHandler(s), nil
	default:
		logger.WarnCtx(ctx, "unknown protocol requested, terminating connection",
			logger.KeyCommand, command)
		return nil, nil
	}
}
