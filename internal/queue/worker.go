package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/supportbot/internal/metrics"
)

// Func is a task body. The returned map is the job result; a "message" or
// "progress" key in it is shown instead of the generic completion text.
type Func func(ctx context.Context, job *Job) (map[string]any, error)

// Observer receives the outcome of every job run that was not canceled.
// OnFailure is only called once retries are exhausted.
type Observer interface {
	OnSuccess(ctx context.Context, job *Job, result map[string]any)
	OnFailure(ctx context.Context, job *Job, err error)
}

// ErrUnknownFunc is reported for jobs naming a function the worker lacks.
var ErrUnknownFunc = errors.New("queue: no function registered for job")

// ErrTimeout is reported when a job outlives its timeout.
var ErrTimeout = errors.New("queue: job timed out")

// WorkerOptions tunes a Worker.
type WorkerOptions struct {
	Concurrency int
	// PollTimeout bounds each blocking pop so shutdown is noticed.
	PollTimeout time.Duration
}

// Worker pops jobs from a queue and runs them.
type Worker struct {
	q        *Queue
	funcs    map[string]Func
	observer Observer
	opts     WorkerOptions
	logger   zerolog.Logger
}

// NewWorker creates a worker for q running funcs.
func NewWorker(q *Queue, funcs map[string]Func, observer Observer, opts WorkerOptions, logger zerolog.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	return &Worker{
		q:        q,
		funcs:    funcs,
		observer: observer,
		opts:     opts,
		logger:   logger.With().Str("component", "worker").Str("queue", q.name).Logger(),
	}
}

// Run processes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.opts.Concurrency).Msg("worker started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.promoteLoop(ctx)
	}()
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()

	w.logger.Info().Msg("worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	exp := backoff.NewExponentialBackOff()
	exp.MaxInterval = 30 * time.Second
	exp.MaxElapsedTime = 0
	exp.Reset()

	for ctx.Err() == nil {
		id, err := w.q.pop(ctx, w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := exp.NextBackOff()
			w.logger.Error().Err(err).Dur("retry_in", wait).Msg("queue pop failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		exp.Reset()
		if id == "" {
			continue
		}
		if err := w.Process(ctx, id); err != nil {
			w.logger.Error().Err(err).Str("job_id", id).Msg("error processing job")
		}
	}
}

func (w *Worker) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.q.PromoteDeferred(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("error promoting deferred jobs")
			}
			if n, err := w.q.Len(ctx); err == nil {
				metrics.QueueDepth.Set(float64(n))
			}
		}
	}
}

// Process runs one job by id and reports its outcome. It is what the run
// loop calls for every popped id and can be called directly in tests.
func (w *Worker) Process(ctx context.Context, id string) error {
	job, err := w.q.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if job == nil || job.Status == StatusCanceled {
		return nil
	}
	run, err := w.q.markStarted(ctx, id)
	if err != nil {
		return err
	}
	if !run {
		return nil
	}

	log := w.logger.With().Str("job_id", id).Str("job", job.Name).Logger()
	log.Debug().Msg("job started")

	result, runErr := w.execute(ctx, job)

	// Bookkeeping must survive a worker shutting down mid-run.
	bg := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		log.Info().Msg("worker stopping, job requeued")
		return w.q.requeue(bg, id)
	}

	status, err := w.q.status(bg, id)
	if err != nil {
		return err
	}
	if status == StatusCanceled || status == "" {
		_ = w.q.rdb.SRem(bg, w.q.startedKey(), id).Err()
		log.Info().Msg("job canceled while running")
		return nil
	}

	if runErr != nil {
		if job.RetriesLeft > 0 {
			wait := retryWait(job)
			job.RetriesLeft--
			log.Warn().Err(runErr).Int("retries_left", job.RetriesLeft).Dur("retry_in", wait).Msg("job failed, retrying")
			return w.q.markDeferred(bg, job, wait, runErr)
		}
		if err := w.q.markFailed(bg, job, fmt.Sprintf("%+v", runErr)); err != nil {
			return err
		}
		job.Status = StatusFailed
		job.ExcInfo = runErr.Error()
		if w.observer != nil {
			w.observer.OnFailure(bg, job, runErr)
		}
		return nil
	}

	if err := w.q.markFinished(bg, job, result); err != nil {
		return err
	}
	job.Status = StatusFinished
	job.Result = result
	if w.observer != nil {
		w.observer.OnSuccess(bg, job, result)
	}
	return nil
}

// retryWait picks the interval for the next retry. Retries consume the
// intervals in order and reuse the last one.
func retryWait(job *Job) time.Duration {
	if len(job.RetryIntervals) == 0 {
		return 0
	}
	used := job.MaxRetries - job.RetriesLeft
	if used < 0 {
		used = 0
	}
	if used >= len(job.RetryIntervals) {
		used = len(job.RetryIntervals) - 1
	}
	return job.RetryIntervals[used]
}

type outcome struct {
	result map[string]any
	err    error
}

// execute runs the job's function under its timeout. A function that
// ignores its context is abandoned when the timeout fires.
func (w *Worker) execute(ctx context.Context, job *Job) (map[string]any, error) {
	fn, ok := w.funcs[job.Name]
	if !ok {
		return nil, pkgerrors.WithStack(fmt.Errorf("%w: %s", ErrUnknownFunc, job.Name))
	}

	runCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: pkgerrors.Errorf("panic: %v", r)}
			}
		}()
		res, err := fn(runCtx, job)
		if err != nil {
			err = pkgerrors.WithStack(err)
		}
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pkgerrors.WithStack(fmt.Errorf("%w after %s", ErrTimeout, job.Timeout))
	}
}
