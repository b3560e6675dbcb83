package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(rdb, "cloudwalk", WithClock(c.Now)), mr, c
}

func TestEnqueueAndFetch(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueRequest{
		Name: "count_words_at_url",
		Args: []any{"https://example.com"},
		Meta: map[string]any{"progress": 0},
		Retry: &Retry{Max: 3, Intervals: []time.Duration{
			10 * time.Second, 30 * time.Second, 60 * time.Second,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "cloudwalk_tasks", job.Origin)

	got, err := q.Fetch(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "count_words_at_url", got.Name)
	assert.Equal(t, []any{"https://example.com"}, got.Args)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, DefaultTimeout, got.Timeout)
	assert.Equal(t, 3, got.RetriesLeft)
	assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}, got.RetryIntervals)

	progress, ok := got.Progress()
	assert.True(t, ok)
	assert.Equal(t, 0, progress)

	ids, err := q.JobIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, ids)
}

func TestEnqueueRequiresName(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, err := q.Enqueue(context.Background(), EnqueueRequest{})
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestFetchUnknownJob(t *testing.T) {
	q, _, _ := newTestQueue(t)
	job, err := q.Fetch(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestIsLiveAndCancel(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "send_background_email"})
	require.NoError(t, err)

	live, err := q.IsLive(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, live)

	require.NoError(t, q.Cancel(ctx, job.ID))

	live, err = q.IsLive(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, live)

	got, err := q.Fetch(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCanceled, got.Status)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelRunningJobStopsBeingLive(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "send_background_email"})
	require.NoError(t, err)
	_, err = q.pop(ctx, time.Second)
	require.NoError(t, err)
	run, err := q.markStarted(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, run)

	live, err := q.IsLive(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, live)

	require.NoError(t, q.Cancel(ctx, job.ID))

	live, err = q.IsLive(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, live)
	ok, err := mr.SIsMember(q.startedKey(), job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsLiveIgnoresCanceledStartedEntry(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "send_background_email"})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, job.ID))
	_, err = mr.SAdd(q.startedKey(), job.ID)
	require.NoError(t, err)

	live, err := q.IsLive(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestMarkStartedKeepsCancel(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "send_background_email"})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, job.ID))

	run, err := q.markStarted(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, run)

	status, err := q.status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, status)
	ok, err := mr.SIsMember(q.startedKey(), job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	run, err = q.markStarted(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, run)
}

func TestUpdateMeta(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "send_background_email", Meta: map[string]any{"a": "b"}})
	require.NoError(t, err)
	require.NoError(t, q.UpdateMeta(ctx, job.ID, map[string]any{"progress": 40}))

	got, err := q.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Meta["a"])
	progress, ok := got.Progress()
	assert.True(t, ok)
	assert.Equal(t, 40, progress)

	assert.NoError(t, q.UpdateMeta(ctx, "missing", map[string]any{"progress": 1}))
}

type recorder struct {
	mu        sync.Mutex
	successes []*Job
	failures  []*Job
	errs      []error
}

func (r *recorder) OnSuccess(ctx context.Context, job *Job, result map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, job)
}

func (r *recorder) OnFailure(ctx context.Context, job *Job, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, job)
	r.errs = append(r.errs, err)
}

func TestWorkerSuccess(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()
	obs := &recorder{}

	funcs := map[string]Func{
		"count_words_at_url": func(ctx context.Context, job *Job) (map[string]any, error) {
			return map[string]any{"message": "42 words"}, nil
		},
	}
	w := NewWorker(q, funcs, obs, WorkerOptions{}, zerolog.Nop())

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "count_words_at_url"})
	require.NoError(t, err)

	id, err := q.pop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, job.ID, id)
	require.NoError(t, w.Process(ctx, id))

	require.Len(t, obs.successes, 1)
	assert.Empty(t, obs.failures)
	assert.Equal(t, "42 words", obs.successes[0].Result["message"])

	got, err := q.Fetch(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Equal(t, "42 words", got.Result["message"])

	live, err := q.IsLive(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, live)

	// Results are evicted after the TTL.
	mr.FastForward(DefaultResultTTL + time.Second)
	got, err = q.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWorkerRetriesThenFails(t *testing.T) {
	q, _, c := newTestQueue(t)
	ctx := context.Background()
	obs := &recorder{}

	calls := 0
	funcs := map[string]Func{
		"send_background_email": func(ctx context.Context, job *Job) (map[string]any, error) {
			calls++
			return nil, errors.New("smtp unavailable")
		},
	}
	w := NewWorker(q, funcs, obs, WorkerOptions{}, zerolog.Nop())

	job, err := q.Enqueue(ctx, EnqueueRequest{
		Name:  "send_background_email",
		Retry: &Retry{Max: 2, Intervals: []time.Duration{10 * time.Second, 30 * time.Second}},
	})
	require.NoError(t, err)

	run := func() {
		t.Helper()
		id, err := q.pop(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, job.ID, id)
		require.NoError(t, w.Process(ctx, id))
	}

	run()
	got, err := q.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeferred, got.Status)
	assert.Equal(t, 1, got.RetriesLeft)
	assert.Empty(t, obs.failures)

	live, err := q.IsLive(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, live)

	// Not due yet.
	moved, err := q.PromoteDeferred(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	c.Advance(10 * time.Second)
	moved, err = q.PromoteDeferred(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	run()

	// Second retry waits for the second interval.
	c.Advance(10 * time.Second)
	moved, err = q.PromoteDeferred(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
	c.Advance(20 * time.Second)
	moved, err = q.PromoteDeferred(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	run()

	assert.Equal(t, 3, calls)
	require.Len(t, obs.failures, 1)
	assert.ErrorContains(t, obs.errs[0], "smtp unavailable")

	failed, err := q.FailedJobIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, failed)

	require.NoError(t, q.RemoveFailed(ctx, job.ID, true))
	failed, err = q.FailedJobIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
	got, err = q.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWorkerTimeout(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	obs := &recorder{}

	release := make(chan struct{})
	defer close(release)
	funcs := map[string]Func{
		"count_words_at_url": func(ctx context.Context, job *Job) (map[string]any, error) {
			<-release
			return nil, nil
		},
	}
	w := NewWorker(q, funcs, obs, WorkerOptions{}, zerolog.Nop())

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "count_words_at_url", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Process(ctx, job.ID))

	require.Len(t, obs.failures, 1)
	assert.ErrorIs(t, obs.errs[0], ErrTimeout)
}

func TestWorkerRecoversPanics(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	obs := &recorder{}

	funcs := map[string]Func{
		"count_words_at_url": func(ctx context.Context, job *Job) (map[string]any, error) {
			panic("boom")
		},
	}
	w := NewWorker(q, funcs, obs, WorkerOptions{}, zerolog.Nop())

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "count_words_at_url"})
	require.NoError(t, err)
	require.NoError(t, w.Process(ctx, job.ID))

	require.Len(t, obs.failures, 1)
	assert.ErrorContains(t, obs.errs[0], "panic: boom")
}

func TestWorkerUnknownFunction(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	obs := &recorder{}
	w := NewWorker(q, map[string]Func{}, obs, WorkerOptions{}, zerolog.Nop())

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "nope"})
	require.NoError(t, err)
	require.NoError(t, w.Process(ctx, job.ID))

	require.Len(t, obs.failures, 1)
	assert.ErrorIs(t, obs.errs[0], ErrUnknownFunc)
}

func TestWorkerSkipsJobCanceledWhileRunning(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	obs := &recorder{}

	funcs := map[string]Func{
		"send_background_email": func(ctx context.Context, job *Job) (map[string]any, error) {
			return nil, q.Cancel(ctx, job.ID)
		},
	}
	w := NewWorker(q, funcs, obs, WorkerOptions{}, zerolog.Nop())

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "send_background_email"})
	require.NoError(t, err)
	require.NoError(t, w.Process(ctx, job.ID))

	assert.Empty(t, obs.successes)
	assert.Empty(t, obs.failures)

	live, err := q.IsLive(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestWorkerSkipsJobCanceledBeforeStart(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	obs := &recorder{}

	called := false
	funcs := map[string]Func{
		"send_background_email": func(ctx context.Context, job *Job) (map[string]any, error) {
			called = true
			return nil, nil
		},
	}
	w := NewWorker(q, funcs, obs, WorkerOptions{}, zerolog.Nop())

	job, err := q.Enqueue(ctx, EnqueueRequest{Name: "send_background_email"})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, job.ID))
	require.NoError(t, w.Process(ctx, job.ID))

	assert.False(t, called)
	assert.Empty(t, obs.successes)
	got, err := q.Fetch(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCanceled, got.Status)
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	q, _, _ := newTestQueue(t)
	obs := &recorder{}

	done := make(chan string, 2)
	funcs := map[string]Func{
		"count_words_at_url": func(ctx context.Context, job *Job) (map[string]any, error) {
			done <- job.ID
			return map[string]any{}, nil
		},
	}
	w := NewWorker(q, funcs, obs, WorkerOptions{Concurrency: 2, PollTimeout: 100 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	first, err := q.Enqueue(ctx, EnqueueRequest{Name: "count_words_at_url"})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, EnqueueRequest{Name: "count_words_at_url"})
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(stopped)
	}()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("jobs were not processed")
		}
	}
	assert.True(t, seen[first.ID])
	assert.True(t, seen[second.ID])

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRetryWait(t *testing.T) {
	intervals := []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}
	tests := []struct {
		max, left int
		want      time.Duration
	}{
		{3, 3, 10 * time.Second},
		{3, 2, 30 * time.Second},
		{3, 1, 60 * time.Second},
		{5, 1, 60 * time.Second},
	}
	for _, tt := range tests {
		job := &Job{MaxRetries: tt.max, RetriesLeft: tt.left, RetryIntervals: intervals}
		assert.Equal(t, tt.want, retryWait(job))
	}
	assert.Zero(t, retryWait(&Job{MaxRetries: 1, RetriesLeft: 1}))
}
