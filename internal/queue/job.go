// Package queue is the Redis backed execution substrate for background
// tasks: a FIFO job queue with delayed retries, a scheduler for recurring
// jobs and a worker that runs them and reports outcomes to an Observer.
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status is the lifecycle state of a job as the substrate sees it.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusScheduled Status = "scheduled"
	StatusDeferred  Status = "deferred"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// JobRef is anything that names a job: a raw ID or a loaded *Job.
type JobRef interface {
	JobID() string
}

// ID is a raw job identifier.
type ID string

// JobID implements JobRef.
func (id ID) JobID() string { return string(id) }

// Job is a unit of background work stored as a Redis hash.
type Job struct {
	ID     string
	Name   string
	Args   []any
	Meta   map[string]any
	Status Status
	Origin string

	Timeout        time.Duration
	MaxRetries     int
	RetriesLeft    int
	RetryIntervals []time.Duration

	// Interval and Repeat are set for scheduled jobs. A nil Repeat runs
	// forever.
	Interval time.Duration
	Repeat   *int

	Result   map[string]any
	ExcInfo  string
	Enqueued time.Time
	Started  time.Time
	Ended    time.Time
}

// JobID implements JobRef.
func (j *Job) JobID() string { return j.ID }

// String mirrors how jobs are named in log lines.
func (j *Job) String() string {
	return fmt.Sprintf("<Job %s: %s>", j.ID, j.Name)
}

// Progress returns the progress recorded in the job meta and whether one was
// recorded at all.
func (j *Job) Progress() (int, bool) {
	if j.Meta == nil {
		return 0, false
	}
	return AsInt(j.Meta["progress"])
}

// Scheduled reports whether the job belongs to the scheduler.
func (j *Job) Scheduled() bool {
	return j.Interval > 0
}

// AsInt reads whole numbers decoded from JSON or set in process.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(i), true
	default:
		return 0, false
	}
}

func (j *Job) toHash() (map[string]any, error) {
	args, err := json.Marshal(j.Args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	meta, err := json.Marshal(j.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	intervals := make([]int64, len(j.RetryIntervals))
	for i, d := range j.RetryIntervals {
		intervals[i] = d.Milliseconds()
	}
	retryIntervals, err := json.Marshal(intervals)
	if err != nil {
		return nil, err
	}
	repeat := ""
	if j.Repeat != nil {
		repeat = strconv.Itoa(*j.Repeat)
	}

	return map[string]any{
		"name":            j.Name,
		"args":            string(args),
		"meta":            string(meta),
		"status":          string(j.Status),
		"origin":          j.Origin,
		"timeout_ms":      j.Timeout.Milliseconds(),
		"max_retries":     j.MaxRetries,
		"retries_left":    j.RetriesLeft,
		"retry_intervals": string(retryIntervals),
		"interval_ms":     j.Interval.Milliseconds(),
		"repeat":          repeat,
		"enqueued_at":     formatTime(j.Enqueued),
	}, nil
}

func jobFromHash(id string, h map[string]string) (*Job, error) {
	j := &Job{
		ID:      id,
		Name:    h["name"],
		Status:  Status(h["status"]),
		Origin:  h["origin"],
		ExcInfo: h["exc_info"],
	}

	if err := decodeJSON(h["args"], &j.Args); err != nil {
		return nil, fmt.Errorf("job %s args: %w", id, err)
	}
	if err := decodeJSON(h["meta"], &j.Meta); err != nil {
		return nil, fmt.Errorf("job %s meta: %w", id, err)
	}
	if err := decodeJSON(h["result"], &j.Result); err != nil {
		return nil, fmt.Errorf("job %s result: %w", id, err)
	}
	if j.Meta == nil {
		j.Meta = map[string]any{}
	}

	var intervals []int64
	if err := decodeJSON(h["retry_intervals"], &intervals); err != nil {
		return nil, fmt.Errorf("job %s retry intervals: %w", id, err)
	}
	for _, ms := range intervals {
		j.RetryIntervals = append(j.RetryIntervals, time.Duration(ms)*time.Millisecond)
	}

	j.Timeout = parseMillis(h["timeout_ms"])
	j.Interval = parseMillis(h["interval_ms"])
	j.MaxRetries, _ = strconv.Atoi(h["max_retries"])
	j.RetriesLeft, _ = strconv.Atoi(h["retries_left"])
	if r := h["repeat"]; r != "" {
		n, err := strconv.Atoi(r)
		if err != nil {
			return nil, fmt.Errorf("job %s repeat: %w", id, err)
		}
		j.Repeat = &n
	}

	j.Enqueued = parseTime(h["enqueued_at"])
	j.Started = parseTime(h["started_at"])
	j.Ended = parseTime(h["ended_at"])
	return j, nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func parseMillis(s string) time.Duration {
	ms, _ := strconv.ParseInt(s, 10, 64)
	return time.Duration(ms) * time.Millisecond
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
