package resultserver

import (
	"sync"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// Registry maps VM source addresses to tasks and tracks the live sessions of
// each task. All maps are guarded by one mutex; session cancellation happens
// outside the lock so a blocked handler can never stall registry calls.
type Registry struct {
	mu             sync.Mutex
	byIP           map[string]int64
	rtByTask       map[int64]Dispatcher
	sessionsByTask map[int64]map[*Session]struct{}
}

// TaskInfo is a point-in-time view of one registered task.
type TaskInfo struct {
	TaskID   int64  `json:"task_id"`
	IP       string `json:"ip"`
	Sessions int    `json:"sessions"`
}

func NewRegistry() *Registry {
	return &Registry{
		byIP:           make(map[string]int64),
		rtByTask:       make(map[int64]Dispatcher),
		sessionsByTask: make(map[int64]map[*Session]struct{}),
	}
}

// AddTask binds a VM source address to a task. Rebinding an address that is
// already in use replaces the previous binding; the scheduler reuses VM
// addresses back to back and the old task is already torn down by then.
func (r *Registry) AddTask(taskID int64, ip string, rt Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIP[ip] = taskID
	if rt != nil {
		r.rtByTask[taskID] = rt
	}
}

// DelTask removes the binding and cancels every session still attached to
// the task. Idempotent.
func (r *Registry) DelTask(taskID int64, ip string) {
	r.mu.Lock()
	if _, ok := r.byIP[ip]; !ok {
		logger.Warn("result server had no task for ip",
			logger.KeyTaskID, taskID, logger.KeyClientIP, ip)
	} else {
		delete(r.byIP, ip)
	}
	delete(r.rtByTask, taskID)
	sessions := r.sessionsByTask[taskID]
	delete(r.sessionsByTask, taskID)
	r.mu.Unlock()

	for s := range sessions {
		logger.Warn("cancelling leftover session",
			logger.KeyTaskID, taskID, logger.KeyCommand, s.command)
		s.Cancel()
	}
}

// Bind resolves a source address to its task and real-time dispatcher.
func (r *Registry) Bind(ip string) (int64, Dispatcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	taskID, ok := r.byIP[ip]
	if !ok {
		return 0, nil, false
	}
	return taskID, r.rtByTask[taskID], true
}

// Attach registers a session under its task, re-checking that the address
// still maps to the same task. A false return means the task was torn down
// between Bind and Attach and the connection must be dropped.
func (r *Registry) Attach(s *Session, ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byIP[ip] != s.taskID {
		return false
	}
	set, ok := r.sessionsByTask[s.taskID]
	if !ok {
		set = make(map[*Session]struct{})
		r.sessionsByTask[s.taskID] = set
	}
	set[s] = struct{}{}
	return true
}

// Detach removes a finished session. Safe to call for sessions already swept
// up by DelTask.
func (r *Registry) Detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.sessionsByTask[s.taskID]; ok {
		delete(set, s)
	}
}

// CancelAll cancels every live session. Used during server shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	var all []*Session
	for _, set := range r.sessionsByTask {
		for s := range set {
			all = append(all, s)
		}
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Cancel()
	}
}

// ActiveTasks returns a snapshot of the current bindings.
func (r *Registry) ActiveTasks() []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks := make([]TaskInfo, 0, len(r.byIP))
	for ip, taskID := range r.byIP {
		tasks = append(tasks, TaskInfo{
			TaskID:   taskID,
			IP:       ip,
			Sessions: len(r.sessionsByTask[taskID]),
		})
	}
	return tasks
}
