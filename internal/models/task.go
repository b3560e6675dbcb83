package models

import (
	"time"

	"github.com/google/uuid"
)

// Task is the persisted shadow of a job submitted to the task queue.
// ID is assigned by the queue, so the row only exists after submission.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message,omitempty"`
	Complete    bool      `json:"complete"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToMap returns the admin listing shape of the task.
func (t *Task) ToMap(position int) map[string]any {
	return map[string]any{
		"position":    position,
		"id":          t.ID,
		"name":        t.Name,
		"description": t.Description,
		"progress":    t.Progress,
		"message":     t.Message,
		"complete":    t.Complete,
		"created_at":  t.CreatedAt.Format(DisplayTimeLayout),
	}
}

// ScheduledTask is the persisted shadow of a recurring job held by the
// scheduler. Interval is in seconds; a nil Repeat means forever.
type ScheduledTask struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	Interval    int       `json:"interval"`
	Repeat      *int      `json:"repeat"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message,omitempty"`
	Cancelled   bool      `json:"cancelled"`
}

// ToMap returns the admin listing shape of the scheduled task.
func (s *ScheduledTask) ToMap(position int) map[string]any {
	m := map[string]any{
		"position":    position,
		"id":          s.ID.String(),
		"name":        s.Name,
		"description": s.Description,
		"cancelled":   s.Cancelled,
		"beginning":   s.Start.Format(DisplayTimeLayout),
		"interval":    s.Interval,
		"progress":    s.Progress,
		"message":     s.Message,
	}
	if s.Repeat != nil {
		m["repeat"] = *s.Repeat
	} else {
		m["repeat"] = nil
	}
	return m
}

// TaskMaps renders tasks with 1-based positions.
func TaskMaps(tasks []*Task) []map[string]any {
	out := make([]map[string]any, 0, len(tasks))
	for i, t := range tasks {
		out = append(out, t.ToMap(i+1))
	}
	return out
}

// ScheduledTaskMaps renders scheduled tasks with 1-based positions.
func ScheduledTaskMaps(tasks []*ScheduledTask) []map[string]any {
	out := make([]map[string]any, 0, len(tasks))
	for i, t := range tasks {
		out = append(out, t.ToMap(i+1))
	}
	return out
}
