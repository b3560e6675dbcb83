package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// QueueStats summarises the task queue.
type QueueStats struct {
	Queued         int64 `json:"queued"`
	Failed         int   `json:"failed"`
	TasksRunning   int   `json:"tasks_running"`
	ScheduledTasks int   `json:"scheduled_tasks"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalConversations int         `json:"total_conversations"`
	ConnectedClients   int         `json:"connected_clients"`
	LastConversation   string      `json:"last_conversation"`
	Queue              *QueueStats `json:"queue,omitempty"`
}

// Stats returns support desk statistics for the admin dashboard.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	convs, err := h.store.ListConversations(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count conversations")
		return
	}

	last := "no conversations yet"
	if n := len(convs); n > 0 {
		last = formatTimeAgo(convs[n-1].CreatedAt)
	}

	resp := StatsResponse{
		TotalConversations: len(convs),
		LastConversation:   last,
	}
	if h.hub != nil {
		resp.ConnectedClients = h.hub.Len()
	}

	if h.queue != nil && h.orch != nil {
		qs := &QueueStats{}
		// Queue figures are best effort; the page still renders without them.
		if n, err := h.queue.Len(ctx); err == nil {
			qs.Queued = n
		}
		if ids, err := h.queue.FailedJobIDs(ctx); err == nil {
			qs.Failed = len(ids)
		}
		if running, err := h.orch.GetTasksInProgress(ctx); err == nil {
			qs.TasksRunning = len(running)
		}
		if scheduled, err := h.orch.GetScheduledTasksInProgress(ctx); err == nil {
			qs.ScheduledTasks = len(scheduled)
		}
		resp.Queue = qs
	}

	h.JSON(w, http.StatusOK, resp)
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
