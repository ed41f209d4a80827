package resultserver

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDispatcher captures everything the server hands to the real-time
// side of a task.
type recordingDispatcher struct {
	mu      sync.Mutex
	started []*Session
	msgs    []map[string]any
}

func (d *recordingDispatcher) Start(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, s)
}

func (d *recordingDispatcher) OnMessage(msg map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
}

func (d *recordingDispatcher) messages() []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]map[string]any{}, d.msgs...)
}

func (d *recordingDispatcher) sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session{}, d.started...)
}

func pipeSession(t *testing.T, taskID int64) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return newSession(taskID, t.TempDir(), server, nil, nil), client
}

func TestRegistryBind(t *testing.T) {
	r := NewRegistry()
	rt := &recordingDispatcher{}
	r.AddTask(7, "192.168.56.10", rt)

	taskID, gotRT, ok := r.Bind("192.168.56.10")
	require.True(t, ok)
	assert.Equal(t, int64(7), taskID)
	assert.Same(t, rt, gotRT)

	_, _, ok = r.Bind("192.168.56.99")
	assert.False(t, ok)
}

func TestRegistryRebindReplacesTask(t *testing.T) {
	r := NewRegistry()
	r.AddTask(1, "192.168.56.10", nil)
	r.AddTask(2, "192.168.56.10", nil)

	taskID, _, ok := r.Bind("192.168.56.10")
	require.True(t, ok)
	assert.Equal(t, int64(2), taskID)
}

func TestRegistryAttachChecksBinding(t *testing.T) {
	r := NewRegistry()
	r.AddTask(7, "192.168.56.10", nil)

	s, _ := pipeSession(t, 7)
	assert.True(t, r.Attach(s, "192.168.56.10"))

	// A session bound to a task that was torn down in the meantime must
	// not attach.
	stale, _ := pipeSession(t, 7)
	r.DelTask(7, "192.168.56.10")
	assert.False(t, r.Attach(stale, "192.168.56.10"))
}

func TestRegistryDelTaskCancelsSessions(t *testing.T) {
	r := NewRegistry()
	r.AddTask(7, "192.168.56.10", nil)

	s, client := pipeSession(t, 7)
	require.True(t, r.Attach(s, "192.168.56.10"))

	done := make(chan error, 1)
	go func() {
		_, err := s.rd.ReadLine(t.Context())
		done <- err
	}()

	r.DelTask(7, "192.168.56.10")

	// net.Pipe has no CloseRead, so Cancel falls back to Close and the
	// blocked read observes a closed connection.
	err := <-done
	require.Error(t, err)
	_ = client.Close()

	_, _, ok := r.Bind("192.168.56.10")
	assert.False(t, ok)
	assert.Empty(t, r.ActiveTasks())
}

func TestRegistryDelTaskIdempotent(t *testing.T) {
	r := NewRegistry()
	r.AddTask(7, "192.168.56.10", nil)
	r.DelTask(7, "192.168.56.10")
	r.DelTask(7, "192.168.56.10")
	assert.Empty(t, r.ActiveTasks())
}

func TestRegistryDetachAfterDelTask(t *testing.T) {
	r := NewRegistry()
	r.AddTask(7, "192.168.56.10", nil)

	s, _ := pipeSession(t, 7)
	require.True(t, r.Attach(s, "192.168.56.10"))
	r.DelTask(7, "192.168.56.10")
	r.Detach(s)
}

func TestRegistryActiveTasks(t *testing.T) {
	r := NewRegistry()
	r.AddTask(1, "192.168.56.10", nil)
	r.AddTask(2, "192.168.56.11", nil)

	s, _ := pipeSession(t, 1)
	require.True(t, r.Attach(s, "192.168.56.10"))

	tasks := r.ActiveTasks()
	require.Len(t, tasks, 2)
	byID := map[int64]TaskInfo{}
	for _, ti := range tasks {
		byID[ti.TaskID] = ti
	}
	assert.Equal(t, "192.168.56.10", byID[1].IP)
	assert.Equal(t, 1, byID[1].Sessions)
	assert.Equal(t, 0, byID[2].Sessions)
}
