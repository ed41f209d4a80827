package resultserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// realtimeHandler turns the connection into a bidirectional JSON-lines
// channel. Inbound messages go to the task's dispatcher; the dispatcher
// writes outbound commands through the session it received in Start.
type realtimeHandler struct {
	s *Session
}

func newRealtimeHandler(s *Session) *realtimeHandler {
	return &realtimeHandler{s: s}
}

func (h *realtimeHandler) Open(ctx context.Context) error {
	if h.s.rt == nil {
		return fmt.Errorf("no real-time dispatcher registered for task %d", h.s.taskID)
	}
	logger.DebugCtx(ctx, "real-time channel established")
	h.s.rt.Start(h.s)
	return nil
}

func (h *realtimeHandler) Header() map[string]any { return nil }

func (h *realtimeHandler) Handle(ctx context.Context) error {
	for {
		line, err := h.s.rd.ReadLine(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return fmt.Errorf("invalid real-time message: %w", err)
		}
		h.s.rt.OnMessage(msg)
	}
}

func (h *realtimeHandler) Close() {}
