package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/model"
	"github.com/dukerupert/tracklist/internal/store"
	ws "github.com/dukerupert/tracklist/internal/websocket"
)

type TaskHandler struct {
	store  *store.TaskStore
	hub    Broadcaster
	logger *slog.Logger
}

func NewTaskHandler(ts *store.TaskStore, hub Broadcaster, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{store: ts, hub: hub, logger: logger}
}

// taskUpdateRequest keeps dueDate raw so an explicit null can be told apart
// from an absent field.
type taskUpdateRequest struct {
	Name      *string         `json:"name"`
	Completed *bool           `json:"completed"`
	DueDate   json.RawMessage `json:"dueDate"`
}

func (req taskUpdateRequest) toUpdate() (model.TaskUpdate, error) {
	upd := model.TaskUpdate{Name: req.Name, Completed: req.Completed}
	if len(req.DueDate) == 0 {
		return upd, nil
	}
	var due *string
	if err := json.Unmarshal(req.DueDate, &due); err != nil {
		return upd, err
	}
	if due == nil {
		due = new(string)
	}
	upd.DueDate = due
	return upd, nil
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.List(r.Context(), auth.Owner(r.Context()))
	if err != nil {
		writeStoreError(w, h.logger, "list tasks", err, "")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string  `json:"name"`
		DueDate *string `json:"dueDate"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Task name required")
		return
	}

	owner := auth.Owner(r.Context())
	task, err := h.store.Add(r.Context(), owner, req.Name, req.DueDate)
	if err != nil {
		writeStoreError(w, h.logger, "add task", err, "Task already exists")
		return
	}

	h.hub.Broadcast(owner, ws.NewMessage("task", "created", task.ID, nil))
	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req taskUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	upd, err := req.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "dueDate must be a string or null")
		return
	}

	owner := auth.Owner(r.Context())
	task, err := h.store.Update(r.Context(), owner, id, upd)
	if err != nil {
		writeStoreError(w, h.logger, "update task", err, "")
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	h.hub.Broadcast(owner, ws.NewMessage("task", "updated", task.ID, nil))
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	owner := auth.Owner(r.Context())
	task, err := h.store.Toggle(r.Context(), owner, id)
	if err != nil {
		writeStoreError(w, h.logger, "toggle task", err, "")
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	h.hub.Broadcast(owner, ws.NewMessage("task", "toggled", task.ID, map[string]any{"completed": task.Completed}))
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) ReplaceAll(w http.ResponseWriter, r *http.Request) {
	tasks, err := decodeList[model.Task](w, r, "tasks")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Tasks must be an array")
		return
	}

	owner := auth.Owner(r.Context())
	saved, err := h.store.ReplaceAll(r.Context(), owner, tasks)
	if err != nil {
		writeStoreError(w, h.logger, "replace tasks", err, "Duplicate task ids")
		return
	}
	if saved == nil {
		saved = []model.Task{}
	}

	h.hub.Broadcast(owner, ws.NewMessage("task", "replaced", 0, map[string]any{"count": len(saved)}))
	writeJSON(w, http.StatusOK, saved)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	owner := auth.Owner(r.Context())
	removed, err := h.store.Remove(r.Context(), owner, id)
	if err != nil {
		writeStoreError(w, h.logger, "remove task", err, "")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	h.hub.Broadcast(owner, ws.NewMessage("task", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) Reset(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	if err := h.store.Reset(r.Context(), owner); err != nil {
		writeStoreError(w, h.logger, "reset tasks", err, "")
		return
	}

	h.hub.Broadcast(owner, ws.NewMessage("task", "reset", 0, nil))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Tasks reset"})
}
