// Package realtime implements the host side of the bidirectional JSON
// channel a VM agent opens through the result server. Commands flow to the
// agent, events and command responses flow back.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sandtrap-io/sandtrap/internal/logger"
	"github.com/sandtrap-io/sandtrap/pkg/resultserver"
)

var (
	// ErrNoChannel means no agent connected a real-time channel in time.
	ErrNoChannel = errors.New("no real-time channel available to send commands over")

	// ErrCommandFailed means the agent reported an unsuccessful command.
	ErrCommandFailed = errors.New("agent raised an error during command execution")
)

// channelWait bounds how long SendCommand waits for the agent to connect.
// The agent dials back within seconds of the VM starting; anything longer
// means the analysis is broken anyway.
const channelWait = 10 * time.Second

// Callback consumes one inbound message.
type Callback func(msg map[string]any)

// Handler dispatches messages for one task. It implements
// resultserver.Dispatcher; the result server calls Start when the agent
// opens its channel and OnMessage for every inbound message.
type Handler struct {
	mu         sync.Mutex
	sess       *resultserver.Session
	ready      chan struct{}
	cmdID      int64
	callbacks  map[int64]Callback
	waiters    map[int64]chan map[string]any
	subscribed map[string][]Callback

	sendMu sync.Mutex
}

func NewHandler() *Handler {
	return &Handler{
		ready:      make(chan struct{}),
		callbacks:  make(map[int64]Callback),
		waiters:    make(map[int64]chan map[string]any),
		subscribed: make(map[string][]Callback),
	}
}

// Start is called by the result server once the agent established its
// real-time channel. A reconnect replaces the previous channel.
func (h *Handler) Start(s *resultserver.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sess != nil {
		logger.Warn("real-time channel reopened, replacing previous channel",
			logger.KeyTaskID, s.TaskID())
		h.sess = s
		return
	}
	logger.Debug("real-time channel started", logger.KeyTaskID, s.TaskID())
	h.sess = s
	close(h.ready)
}

// OnMessage routes one inbound message. Messages carrying a rid resolve the
// matching command callback or blocked sender; everything else fans out to
// the subscribers of its type.
func (h *Handler) OnMessage(msg map[string]any) {
	if rid, ok := messageRid(msg); ok {
		h.resolve(rid, msg)
		return
	}

	msgType, _ := msg["type"].(string)
	if msgType == "" {
		return
	}

	h.mu.Lock()
	subs := append([]Callback{}, h.subscribed[msgType]...)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (h *Handler) resolve(rid int64, msg map[string]any) {
	h.mu.Lock()
	cb, hasCB := h.callbacks[rid]
	delete(h.callbacks, rid)
	waiter, hasWaiter := h.waiters[rid]
	delete(h.waiters, rid)
	h.mu.Unlock()

	switch {
	case hasCB:
		logger.Debug("calling response handler", "rid", rid)
		cb(msg)
	case hasWaiter:
		waiter <- msg
	default:
		logger.Debug("dropping response with no consumer", "rid", rid)
	}
}

// SubscribeCallback registers fn for every non-response message of the
// given type.
func (h *Handler) SubscribeCallback(msgType string, fn Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribed[msgType] = append(h.subscribed[msgType], fn)
}

// SendCommand sends a command to the agent. If cb is non-nil it is invoked
// with the agent's response. Returns the command id. Blocks until the agent
// has connected its channel, bounded by ctx and channelWait.
func (h *Handler) SendCommand(ctx context.Context, command map[string]any, cb Callback) (int64, error) {
	if err := h.waitReady(ctx); err != nil {
		return 0, err
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	h.cmdID++
	cmdID := h.cmdID
	sess := h.sess
	if cb != nil {
		h.callbacks[cmdID] = cb
	}
	h.mu.Unlock()

	command["command_id"] = cmdID
	data, err := json.Marshal(command)
	if err != nil {
		return 0, fmt.Errorf("encode real-time command: %w", err)
	}
	data = append(data, '\n')

	if err := sess.Write(data); err != nil {
		h.mu.Lock()
		delete(h.callbacks, cmdID)
		h.mu.Unlock()
		return 0, fmt.Errorf("real-time channel was closed: %w", err)
	}
	return cmdID, nil
}

// SendCommandBlocking sends a command and waits for the agent's response.
// Returns the response's return_data. Fails with ErrCommandFailed when the
// agent reports success=false, and with the context error on timeout.
func (h *Handler) SendCommandBlocking(ctx context.Context, command map[string]any) (any, error) {
	waiter := make(chan map[string]any, 1)

	h.sendMu.Lock()
	if err := h.waitReady(ctx); err != nil {
		h.sendMu.Unlock()
		return nil, err
	}

	h.mu.Lock()
	h.cmdID++
	cmdID := h.cmdID
	sess := h.sess
	h.waiters[cmdID] = waiter
	h.mu.Unlock()

	command["command_id"] = cmdID
	data, err := json.Marshal(command)
	if err != nil {
		h.dropWaiter(cmdID)
		h.sendMu.Unlock()
		return nil, fmt.Errorf("encode real-time command: %w", err)
	}
	data = append(data, '\n')

	if err := sess.Write(data); err != nil {
		h.dropWaiter(cmdID)
		h.sendMu.Unlock()
		return nil, fmt.Errorf("real-time channel was closed: %w", err)
	}
	h.sendMu.Unlock()

	select {
	case resp := <-waiter:
		if success, _ := resp["success"].(bool); !success {
			return nil, fmt.Errorf("%w: command %v, response %v", ErrCommandFailed, command, resp)
		}
		return resp["return_data"], nil
	case <-ctx.Done():
		h.dropWaiter(cmdID)
		return nil, ctx.Err()
	}
}

func (h *Handler) dropWaiter(cmdID int64) {
	h.mu.Lock()
	delete(h.waiters, cmdID)
	h.mu.Unlock()
}

// waitReady blocks until Start has been called. Commands can be issued
// before the analyzer has dialed back; give it a bounded grace period.
func (h *Handler) waitReady(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	default:
	}

	timer := time.NewTimer(channelWait)
	defer timer.Stop()
	select {
	case <-h.ready:
		return nil
	case <-timer.C:
		return ErrNoChannel
	case <-ctx.Done():
		return ctx.Err()
	}
}

// messageRid extracts the response id of a message, tolerating the numeric
// types JSON decoding produces.
func messageRid(msg map[string]any) (int64, bool) {
	switch v := msg["rid"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
