// Package tasks submits background work to the queue and keeps its shadow
// records in the store in step with what the worker reports.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/eldtechnologies/supportbot/internal/logging"
	"github.com/eldtechnologies/supportbot/internal/metrics"
	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/queue"
	"github.com/eldtechnologies/supportbot/internal/store"
)

// Registered task names.
const (
	TaskErrorEmail = "send_background_error_email"
	TaskSweep      = "handle_unhandled_messages"
	TaskEmail      = "send_background_email"
	TaskCountWords = "count_words_at_url"
)

// Names is the closed set of tasks that can be launched or scheduled.
var Names = []string{TaskErrorEmail, TaskSweep, TaskEmail, TaskCountWords}

// Registered reports whether name is a known task.
func Registered(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

const (
	// JobTimeout bounds every run of a launched task.
	JobTimeout = 30 * time.Second

	defaultInterval = 60 * time.Second
	defaultRepeat   = 10
)

// DefaultRetry is the retry policy of launched tasks.
var DefaultRetry = queue.Retry{
	Max:       3,
	Intervals: []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second},
}

var (
	ErrEmptyTaskName       = errors.New("task name is required")
	ErrUnknownTask         = errors.New("no such task function")
	ErrNoSuchTask          = errors.New("no such task")
	ErrNoSuchScheduledTask = errors.New("no such scheduled task")
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     store.DataStore
	Queue     *queue.Queue
	Scheduler *queue.Scheduler
	Logger    zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator launches and schedules tasks and records their outcomes. It
// is the queue.Observer of the worker.
type Orchestrator struct {
	store     store.DataStore
	queue     *queue.Queue
	scheduler *queue.Scheduler
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:     d.Store,
		queue:     d.Queue,
		scheduler: d.Scheduler,
		logger:    d.Logger.With().Str("component", "tasks").Logger(),
		now:       now,
	}
}

func (o *Orchestrator) checkName(ctx context.Context, name string) error {
	if name == "" {
		logging.System(ctx, o.store, o.logger, models.LevelException, ErrEmptyTaskName, "Task function provided")
		return ErrEmptyTaskName
	}
	if !Registered(name) {
		logging.System(ctx, o.store, o.logger, models.LevelException, ErrUnknownTask, "Non-existent Task function provided")
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return nil
}

// LaunchTask submits a one-off run of the named task and records it.
// Failing to save the record is logged; the job stays queued.
func (o *Orchestrator) LaunchTask(ctx context.Context, name, description string, meta map[string]any, args ...any) (*models.Task, error) {
	if err := o.checkName(ctx, name); err != nil {
		return nil, err
	}

	retry := DefaultRetry
	job, err := o.queue.Enqueue(ctx, queue.EnqueueRequest{
		Name:    name,
		Args:    args,
		Meta:    meta,
		Timeout: JobTimeout,
		Retry:   &retry,
	})
	if err != nil {
		logging.System(ctx, o.store, o.logger, models.LevelException, err, "Job has not been queued")
		return nil, err
	}
	metrics.TasksLaunched.WithLabelValues(name, "once").Inc()

	task := &models.Task{
		ID:          job.ID,
		Name:        name,
		Description: description,
		CreatedAt:   o.now().UTC(),
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		logging.System(ctx, o.store, o.logger, models.LevelException, err, "Unable to queue task")
	}
	o.logger.Info().Str("task", name).Str("job_id", job.ID).Msg("task launched")
	return task, nil
}

// GetTasksInProgress returns every incomplete task.
func (o *Orchestrator) GetTasksInProgress(ctx context.Context) ([]*models.Task, error) {
	return o.store.ListIncompleteTasks(ctx, "")
}

// GetTaskInProgress returns the oldest incomplete task with the given name,
// or nil. Callers use it to avoid running two tasks of one kind at once.
func (o *Orchestrator) GetTaskInProgress(ctx context.Context, name string) (*models.Task, error) {
	if name == "" {
		return nil, nil
	}
	tasks, err := o.store.ListIncompleteTasks(ctx, name)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return tasks[0], nil
}

// CancelTask cancels the job behind a task. It reports false without
// touching anything when the job has already left the queue.
func (o *Orchestrator) CancelTask(ctx context.Context, ref queue.JobRef) (bool, error) {
	id := ""
	if ref != nil {
		id = ref.JobID()
	}
	task, err := o.store.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, ErrNoSuchTask
	}

	live, err := o.queue.IsLive(ctx, task.ID)
	if err != nil {
		return false, err
	}
	if !live {
		return false, nil
	}
	if err := o.queue.Cancel(ctx, task.ID); err != nil {
		return false, err
	}
	if err := o.store.CompleteTask(ctx, task.ID); err != nil {
		return false, err
	}
	return true, nil
}

// GetProgress reports how far the task's job has come. A job that is gone
// finished long enough ago for its result to expire, so it counts as done;
// a job without progress has not started.
func (o *Orchestrator) GetProgress(ctx context.Context, task *models.Task) int {
	if task == nil {
		return 100
	}
	job, err := o.queue.Fetch(ctx, task.ID)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", task.ID).Msg("error loading job")
		return 100
	}
	if job == nil {
		return 100
	}
	progress, _ := job.Progress()
	return progress
}

// ScheduleOptions describes a recurring task. Zero values take defaults:
// start now, every minute. A nil or negative Repeat means ten repeats and
// zero runs the task once. Forever ignores Repeat.
type ScheduleOptions struct {
	Name        string
	Description string
	Start       time.Time
	Interval    time.Duration
	Repeat      *int
	Forever     bool
	Meta        map[string]any
	Args        []any
}

// ScheduleTask registers a recurring task with the scheduler and records it.
func (o *Orchestrator) ScheduleTask(ctx context.Context, opts ScheduleOptions) (*models.ScheduledTask, error) {
	if err := o.checkName(ctx, opts.Name); err != nil {
		return nil, err
	}

	start := opts.Start
	if start.IsZero() {
		start = o.now()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	var repeat *int
	if !opts.Forever {
		n := defaultRepeat
		if opts.Repeat != nil && *opts.Repeat >= 0 {
			n = *opts.Repeat
		}
		repeat = &n
	}

	job, err := o.scheduler.Schedule(ctx, queue.ScheduleRequest{
		Name:     opts.Name,
		Args:     opts.Args,
		Meta:     opts.Meta,
		Start:    start,
		Interval: interval,
		Repeat:   repeat,
		Timeout:  JobTimeout,
	})
	if err != nil {
		logging.System(ctx, o.store, o.logger, models.LevelException, err, "Job has not been scheduled")
		return nil, err
	}
	metrics.TasksLaunched.WithLabelValues(opts.Name, "scheduled").Inc()

	id, err := uuid.Parse(job.ID)
	if err != nil {
		return nil, err
	}
	task := &models.ScheduledTask{
		ID:          id,
		Name:        opts.Name,
		Description: opts.Description,
		Start:       start.UTC(),
		Interval:    int(interval / time.Second),
		Repeat:      repeat,
	}
	if err := o.store.CreateScheduledTask(ctx, task); err != nil {
		logging.System(ctx, o.store, o.logger, models.LevelException, err, "Unable to start scheduled task")
	}
	o.logger.Info().
		Str("task", opts.Name).
		Str("job_id", job.ID).
		Time("start", start).
		Dur("interval", interval).
		Msg("task scheduled")
	return task, nil
}

// GetScheduledTasksInProgress returns every scheduled task not cancelled.
func (o *Orchestrator) GetScheduledTasksInProgress(ctx context.Context) ([]*models.ScheduledTask, error) {
	return o.store.ListActiveScheduledTasks(ctx, "")
}

// GetScheduledTaskInProgress returns the scheduled task with the given name,
// or nil.
func (o *Orchestrator) GetScheduledTaskInProgress(ctx context.Context, name string) (*models.ScheduledTask, error) {
	if name == "" {
		return nil, nil
	}
	tasks, err := o.store.ListActiveScheduledTasks(ctx, name)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return tasks[0], nil
}

// CancelScheduledTask stops future runs of a scheduled task. It reports
// false when the scheduler no longer holds the job; the record is still
// marked cancelled then.
func (o *Orchestrator) CancelScheduledTask(ctx context.Context, ref queue.JobRef) (bool, error) {
	raw := ""
	if ref != nil {
		raw = ref.JobID()
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrNoSuchScheduledTask, raw)
	}
	task, err := o.store.GetScheduledTask(ctx, id)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, ErrNoSuchScheduledTask
	}

	ok, err := o.scheduler.Contains(ctx, id.String())
	if err != nil {
		return false, err
	}
	if !ok {
		// The job is gone, so the record must not stay active.
		if !task.Cancelled {
			if err := o.store.CancelScheduledTask(ctx, id); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	if err := o.scheduler.Cancel(ctx, id.String()); err != nil {
		return false, err
	}
	if err := o.store.CancelScheduledTask(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// Reschedule cancels the live scheduled task of the same name, if any, and
// schedules a fresh one.
func (o *Orchestrator) Reschedule(ctx context.Context, opts ScheduleOptions) (*models.ScheduledTask, error) {
	current, err := o.GetScheduledTaskInProgress(ctx, opts.Name)
	if err != nil {
		return nil, err
	}
	if current != nil {
		if _, err := o.CancelScheduledTask(ctx, queue.ID(current.ID.String())); err != nil {
			logging.System(ctx, o.store, o.logger, models.LevelException, err, "Error cancelling repeated tasks")
		}
	}
	return o.ScheduleTask(ctx, opts)
}

// describe returns the description of the record behind a job, if any.
func (o *Orchestrator) describe(ctx context.Context, id string) (string, bool) {
	task, err := o.store.GetTask(ctx, id)
	if err == nil && task != nil {
		return task.Description, true
	}
	if uid, perr := uuid.Parse(id); perr == nil {
		st, err := o.store.GetScheduledTask(ctx, uid)
		if err == nil && st != nil {
			return st.Description, true
		}
	}
	return "", false
}

// isSoftFailure reports whether a completion message actually describes an
// error, in any case.
func isSoftFailure(msg string) bool {
	return len(msg) >= 3 && strings.EqualFold(msg[:3], "err")
}

// OnSuccess records a finished job. A result may override the message and
// progress shown for the task.
func (o *Orchestrator) OnSuccess(ctx context.Context, job *queue.Job, result map[string]any) {
	message := "Success!"
	if desc, ok := o.describe(ctx, job.ID); ok {
		if desc == "" {
			desc = "Job"
		}
		message = fmt.Sprintf("Success! %s completed.", capitalize(desc))
	}

	progress := 100
	if p, ok := queue.AsInt(result["progress"]); ok && p != 0 {
		progress = p
	}
	if m, ok := result["message"].(string); ok && m != "" {
		message = m
	}

	if isSoftFailure(message) {
		metrics.TaskOutcomes.WithLabelValues(job.Name, "soft_failure").Inc()
		o.OnFailure(ctx, job, errors.New(message))
		return
	}

	metrics.TaskOutcomes.WithLabelValues(job.Name, "success").Inc()
	o.updateJob(ctx, job, progress, message)
	o.logger.Info().Str("job_id", job.ID).Str("task", job.Name).Interface("args", job.Args).Msg(message)
}

// OnFailure records a job whose retries ran out.
func (o *Orchestrator) OnFailure(ctx context.Context, job *queue.Job, err error) {
	desc, ok := o.describe(ctx, job.ID)
	if !ok || desc == "" {
		desc = "job"
	}
	message := fmt.Sprintf("Unhandled exception running %s\nJob %s on connection %s", desc, job, o.queue.Name())

	metrics.TaskOutcomes.WithLabelValues(job.Name, "failure").Inc()
	o.updateJob(ctx, job, 100, message)
	logging.System(ctx, o.store, o.logger, models.LevelException, err, message)
}

// updateJob stores progress and message on the job and its record. A task
// record is completed once progress reaches 100.
func (o *Orchestrator) updateJob(ctx context.Context, job *queue.Job, progress int, message string) {
	if err := o.queue.UpdateMeta(ctx, job.ID, map[string]any{"progress": progress, "message": message}); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("error saving job meta")
	}

	task, err := o.store.GetTask(ctx, job.ID)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("error loading task")
		return
	}
	if task != nil {
		if err := o.store.UpdateTaskProgress(ctx, task.ID, progress, message); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("error saving task progress")
		}
		if progress >= 100 {
			if err := o.store.CompleteTask(ctx, task.ID); err != nil {
				o.logger.Error().Err(err).Str("job_id", job.ID).Msg("error completing task")
			}
		}
		return
	}

	if id, perr := uuid.Parse(job.ID); perr == nil {
		if err := o.store.UpdateScheduledTaskProgress(ctx, id, progress, message); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("error saving scheduled task progress")
		}
	}
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	for i := range lower {
		if i == 0 {
			continue
		}
		return cases.Upper(language.Und).String(lower[:i]) + lower[i:]
	}
	return cases.Upper(language.Und).String(lower)
}

var _ queue.Observer = (*Orchestrator)(nil)
