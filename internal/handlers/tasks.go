package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/queue"
	"github.com/eldtechnologies/supportbot/internal/tasks"
)

// LaunchRequest is the body of POST /api/tasks.
type LaunchRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta,omitempty"`
	Args        []any          `json:"args,omitempty"`
}

// ScheduleRequest is the body of POST /api/scheduled-tasks.
type ScheduleRequest struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Start           *time.Time     `json:"start,omitempty"`
	IntervalSeconds int            `json:"interval_seconds,omitempty"`
	Repeat          *int           `json:"repeat,omitempty"`
	Forever         bool           `json:"forever,omitempty"`
	Meta            map[string]any `json:"meta,omitempty"`
	Args            []any          `json:"args,omitempty"`
}

// requireTasks answers 503 when no task queue is configured.
func (h *Handler) requireTasks(w http.ResponseWriter) bool {
	if h.orch == nil {
		h.Error(w, http.StatusServiceUnavailable, "task queue not configured")
		return false
	}
	return true
}

// taskError maps orchestrator errors onto responses.
func (h *Handler) taskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrEmptyTaskName), errors.Is(err, tasks.ErrUnknownTask):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrNoSuchTask), errors.Is(err, tasks.ErrNoSuchScheduledTask):
		h.Error(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Msg("task operation failed")
		h.Error(w, http.StatusInternalServerError, "task operation failed")
	}
}

// ListTasks returns the incomplete tasks with live progress.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	if !h.requireTasks(w) {
		return
	}
	ctx := r.Context()

	list, err := h.orch.GetTasksInProgress(ctx)
	if err != nil {
		h.taskError(w, err)
		return
	}
	for _, t := range list {
		t.Progress = h.orch.GetProgress(ctx, t)
	}
	h.JSON(w, http.StatusOK, map[string]any{"tasks": models.TaskMaps(list)})
}

// LaunchTask submits a one-off task.
func (h *Handler) LaunchTask(w http.ResponseWriter, r *http.Request) {
	if !h.requireTasks(w) {
		return
	}

	var req LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Description = sanitizeText(req.Description, 128)

	task, err := h.orch.LaunchTask(r.Context(), req.Name, req.Description, req.Meta, req.Args...)
	if err != nil {
		h.taskError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, task)
}

// TaskProgress reports the progress of one task.
func (h *Handler) TaskProgress(w http.ResponseWriter, r *http.Request) {
	if !h.requireTasks(w) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	task, err := h.store.GetTask(ctx, id)
	if err != nil {
		h.taskError(w, err)
		return
	}
	if task == nil {
		h.taskError(w, tasks.ErrNoSuchTask)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"id":       task.ID,
		"progress": h.orch.GetProgress(ctx, task),
		"message":  task.Message,
	})
}

// CancelTask cancels a queued or running task.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	if !h.requireTasks(w) {
		return
	}
	id := chi.URLParam(r, "id")

	ok, err := h.orch.CancelTask(r.Context(), queue.ID(id))
	if err != nil {
		h.taskError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": ok})
}

// ListScheduledTasks returns the scheduled tasks that were not cancelled.
func (h *Handler) ListScheduledTasks(w http.ResponseWriter, r *http.Request) {
	if !h.requireTasks(w) {
		return
	}

	list, err := h.orch.GetScheduledTasksInProgress(r.Context())
	if err != nil {
		h.taskError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"scheduled_tasks": models.ScheduledTaskMaps(list)})
}

// ScheduleTask registers a recurring task.
func (h *Handler) ScheduleTask(w http.ResponseWriter, r *http.Request) {
	if !h.requireTasks(w) {
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.IntervalSeconds < 0 || (req.Repeat != nil && *req.Repeat < 0) {
		h.Error(w, http.StatusBadRequest, "interval and repeat must not be negative")
		return
	}

	opts := tasks.ScheduleOptions{
		Name:        req.Name,
		Description: sanitizeText(req.Description, 128),
		Interval:    time.Duration(req.IntervalSeconds) * time.Second,
		Repeat:      req.Repeat,
		Forever:     req.Forever,
		Meta:        req.Meta,
		Args:        req.Args,
	}
	if req.Start != nil {
		opts.Start = *req.Start
	}

	task, err := h.orch.ScheduleTask(r.Context(), opts)
	if err != nil {
		h.taskError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, task.ToMap(1))
}

// CancelScheduledTask stops future runs of a scheduled task.
func (h *Handler) CancelScheduledTask(w http.ResponseWriter, r *http.Request) {
	if !h.requireTasks(w) {
		return
	}
	id := chi.URLParam(r, "id")

	ok, err := h.orch.CancelScheduledTask(r.Context(), queue.ID(id))
	if err != nil {
		h.taskError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": ok})
}
