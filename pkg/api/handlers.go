package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandtrap-io/sandtrap/pkg/resultserver"
)

// TaskBackend is what the control API needs from the rest of the server to
// manage task registrations.
type TaskBackend interface {
	// AddTask binds a VM source address to a task and prepares its
	// storage directory.
	AddTask(ctx context.Context, taskID int64, ip string) error

	// DelTask removes the binding and cancels the task's live sessions.
	DelTask(ctx context.Context, taskID int64, ip string) error

	// Tasks returns the currently registered tasks.
	Tasks(ctx context.Context) []resultserver.TaskInfo
}

// taskHandler serves the /tasks routes.
type taskHandler struct {
	backend TaskBackend
}

// taskRequest is the body of POST /tasks.
type taskRequest struct {
	TaskID int64  `json:"task_id"`
	IP     string `json:"ip"`
}

func (h *taskHandler) create(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse("invalid request body: "+err.Error()))
		return
	}
	if req.TaskID <= 0 {
		JSON(w, http.StatusBadRequest, ErrorResponse("task_id must be a positive integer"))
		return
	}
	if req.IP == "" {
		JSON(w, http.StatusBadRequest, ErrorResponse("ip is required"))
		return
	}

	if err := h.backend.AddTask(r.Context(), req.TaskID, req.IP); err != nil {
		JSON(w, http.StatusInternalServerError, ErrorResponse(err.Error()))
		return
	}
	JSON(w, http.StatusCreated, OKResponse(req))
}

func (h *taskHandler) delete(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || taskID <= 0 {
		JSON(w, http.StatusBadRequest, ErrorResponse("invalid task id"))
		return
	}
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		JSON(w, http.StatusBadRequest, ErrorResponse("ip query parameter is required"))
		return
	}

	if err := h.backend.DelTask(r.Context(), taskID, ip); err != nil {
		JSON(w, http.StatusInternalServerError, ErrorResponse(err.Error()))
		return
	}
	JSON(w, http.StatusOK, OKResponse(map[string]any{"task_id": taskID, "ip": ip}))
}

func (h *taskHandler) list(w http.ResponseWriter, r *http.Request) {
	tasks := h.backend.Tasks(r.Context())
	if tasks == nil {
		tasks = []resultserver.TaskInfo{}
	}
	JSON(w, http.StatusOK, OKResponse(map[string]any{"tasks": tasks}))
}

// healthHandler serves liveness and status probes.
type healthHandler struct {
	backend TaskBackend
}

func (h *healthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, OKResponse(map[string]any{"alive": true}))
}

func (h *healthHandler) status(w http.ResponseWriter, r *http.Request) {
	tasks := h.backend.Tasks(r.Context())
	sessions := 0
	for _, t := range tasks {
		sessions += t.Sessions
	}
	JSON(w, http.StatusOK, OKResponse(map[string]any{
		"tasks":    len(tasks),
		"sessions": sessions,
	}))
}
