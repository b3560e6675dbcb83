package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultResultTTL is how long finished jobs stay fetchable.
	DefaultResultTTL = 500 * time.Second
	// DefaultTimeout bounds a single run of a job.
	DefaultTimeout = 180 * time.Second
)

// ErrEmptyName rejects jobs without a function name.
var ErrEmptyName = errors.New("queue: job name is required")

// Retry is a bounded retry policy. Intervals are used in order; the last one
// repeats if Max exceeds their number.
type Retry struct {
	Max       int
	Intervals []time.Duration
}

// EnqueueRequest describes a job to run once.
type EnqueueRequest struct {
	Name    string
	Args    []any
	Meta    map[string]any
	Timeout time.Duration
	Retry   *Retry
}

// Queue is a named FIFO of jobs in Redis.
//
// Keys, for root "cloudwalk":
//
//	cloudwalk:job:<id>          job hash
//	cloudwalk_tasks             pending job ids (list)
//	cloudwalk_tasks:deferred    retries waiting for their interval (zset)
//	cloudwalk_tasks:started     ids being run by a worker (set)
//	cloudwalk_tasks:failed      ids whose retries ran out (set)
type Queue struct {
	rdb       redis.UniversalClient
	root      string
	name      string
	resultTTL time.Duration
	now       func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithResultTTL overrides how long finished jobs are kept.
func WithResultTTL(d time.Duration) Option {
	return func(q *Queue) { q.resultTTL = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New returns the task queue under root.
func New(rdb redis.UniversalClient, root string, opts ...Option) *Queue {
	q := &Queue{
		rdb:       rdb,
		root:      root,
		name:      root + "_tasks",
		resultTTL: DefaultResultTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name is the queue name recorded as the origin of its jobs.
func (q *Queue) Name() string { return q.name }

// Client exposes the Redis connection the queue runs on.
func (q *Queue) Client() redis.UniversalClient { return q.rdb }

func (q *Queue) jobKey(id string) string { return q.root + ":job:" + id }
func (q *Queue) listKey() string         { return q.name }
func (q *Queue) deferredKey() string     { return q.name + ":deferred" }
func (q *Queue) startedKey() string      { return q.name + ":started" }
func (q *Queue) failedKey() string       { return q.name + ":failed" }

// Enqueue stores a job and appends it to the queue.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	if req.Name == "" {
		return nil, ErrEmptyName
	}
	job := &Job{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Args:     req.Args,
		Meta:     req.Meta,
		Status:   StatusQueued,
		Origin:   q.name,
		Timeout:  req.Timeout,
		Enqueued: q.now().UTC(),
	}
	if job.Meta == nil {
		job.Meta = map[string]any{}
	}
	if job.Timeout <= 0 {
		job.Timeout = DefaultTimeout
	}
	if req.Retry != nil {
		job.MaxRetries = req.Retry.Max
		job.RetriesLeft = req.Retry.Max
		job.RetryIntervals = req.Retry.Intervals
	}

	fields, err := job.toHash()
	if err != nil {
		return nil, err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(job.ID), fields)
		p.RPush(ctx, q.listKey(), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", req.Name, err)
	}
	return job, nil
}

// Fetch loads a job. It returns (nil, nil) when the job is unknown, which is
// normal once a finished job's result has expired.
func (q *Queue) Fetch(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, nil
	}
	h, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, nil
	}
	return jobFromHash(id, h)
}

// JobIDs returns the ids waiting in the queue, oldest first.
func (q *Queue) JobIDs(ctx context.Context) ([]string, error) {
	return q.rdb.LRange(ctx, q.listKey(), 0, -1).Result()
}

// Len returns the number of jobs waiting in the queue.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.listKey()).Result()
}

// IsLive reports whether the job is still pending, waiting for a retry or
// running.
func (q *Queue) IsLive(ctx context.Context, id string) (bool, error) {
	started, err := q.rdb.SIsMember(ctx, q.startedKey(), id).Result()
	if err != nil {
		return false, err
	}
	if started {
		status, err := q.status(ctx, id)
		if err != nil {
			return false, err
		}
		return status == StatusStarted, nil
	}
	if _, err := q.rdb.ZScore(ctx, q.deferredKey(), id).Result(); err == nil {
		return true, nil
	} else if !errors.Is(err, redis.Nil) {
		return false, err
	}
	ids, err := q.JobIDs(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, id), nil
}

// Cancel removes a pending job and marks it canceled. A running job finishes
// but its outcome is not reported, and it stops counting as live at once.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.listKey(), 0, id)
		p.ZRem(ctx, q.deferredKey(), id)
		p.SRem(ctx, q.startedKey(), id)
		p.HSet(ctx, q.jobKey(id), "status", string(StatusCanceled), "ended_at", formatTime(q.now()))
		p.Expire(ctx, q.jobKey(id), q.resultTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	return nil
}

// SaveMeta writes the job's meta back to Redis.
func (q *Queue) SaveMeta(ctx context.Context, job *Job) error {
	meta, err := json.Marshal(job.Meta)
	if err != nil {
		return err
	}
	return q.rdb.HSet(ctx, q.jobKey(job.ID), "meta", string(meta)).Err()
}

// UpdateMeta merges values into the stored meta of a job.
func (q *Queue) UpdateMeta(ctx context.Context, id string, values map[string]any) error {
	job, err := q.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	for k, v := range values {
		job.Meta[k] = v
	}
	return q.SaveMeta(ctx, job)
}

// FailedJobIDs lists jobs whose retries ran out.
func (q *Queue) FailedJobIDs(ctx context.Context) ([]string, error) {
	return q.rdb.SMembers(ctx, q.failedKey()).Result()
}

// RemoveFailed drops a job from the failed set, deleting its hash when asked.
func (q *Queue) RemoveFailed(ctx context.Context, id string, deleteJob bool) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, q.failedKey(), id)
		if deleteJob {
			p.Del(ctx, q.jobKey(id))
		}
		return nil
	})
	return err
}

// PromoteDeferred moves retries whose interval has passed back onto the
// queue and returns how many moved.
func (q *Queue) PromoteDeferred(ctx context.Context) (int, error) {
	due, err := q.rdb.ZRangeByScore(ctx, q.deferredKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range due {
		removed, err := q.rdb.ZRem(ctx, q.deferredKey(), id).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			// Another worker took it.
			continue
		}
		_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, q.jobKey(id), "status", string(StatusQueued))
			p.RPush(ctx, q.listKey(), id)
			return nil
		})
		if err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// pop waits up to timeout for the next job id. It returns "" on timeout.
func (q *Queue) pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.listKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return res[1], nil
}

// markStarted moves a job to started unless it was canceled or expired
// meanwhile. It reports whether the job should run.
func (q *Queue) markStarted(ctx context.Context, id string) (bool, error) {
	key := q.jobKey(id)
	var run bool
	txf := func(tx *redis.Tx) error {
		run = false
		status, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, redis.Nil) || Status(status) == StatusCanceled {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "status", string(StatusStarted), "started_at", formatTime(q.now()))
			p.SAdd(ctx, q.startedKey(), id)
			return nil
		})
		run = err == nil
		return err
	}
	for range 5 {
		err := q.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return run, err
	}
	return false, fmt.Errorf("start job %s: %w", id, redis.TxFailedErr)
}

// requeue puts an interrupted job back at the head of the queue.
func (q *Queue) requeue(ctx context.Context, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, q.startedKey(), id)
		p.HSet(ctx, q.jobKey(id), "status", string(StatusQueued))
		p.LPush(ctx, q.listKey(), id)
		return nil
	})
	return err
}

func (q *Queue) status(ctx context.Context, id string) (Status, error) {
	s, err := q.rdb.HGet(ctx, q.jobKey(id), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return Status(s), err
}

func (q *Queue) markDeferred(ctx context.Context, job *Job, wait time.Duration, cause error) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, q.startedKey(), job.ID)
		p.HSet(ctx, q.jobKey(job.ID),
			"status", string(StatusDeferred),
			"retries_left", job.RetriesLeft,
			"exc_info", cause.Error(),
		)
		p.ZAdd(ctx, q.deferredKey(), redis.Z{Score: float64(q.now().Add(wait).UnixMilli()), Member: job.ID})
		return nil
	})
	return err
}

func (q *Queue) markFailed(ctx context.Context, job *Job, excInfo string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, q.startedKey(), job.ID)
		p.HSet(ctx, q.jobKey(job.ID),
			"status", string(StatusFailed),
			"exc_info", excInfo,
			"ended_at", formatTime(q.now()),
		)
		p.SAdd(ctx, q.failedKey(), job.ID)
		return nil
	})
	return err
}

// markFinished stores the result. Scheduled jobs keep their hash because the
// scheduler runs them again under the same id.
func (q *Queue) markFinished(ctx context.Context, job *Job, result map[string]any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, q.startedKey(), job.ID)
		p.HSet(ctx, q.jobKey(job.ID),
			"status", string(StatusFinished),
			"result", string(raw),
			"ended_at", formatTime(q.now()),
		)
		if !job.Scheduled() {
			p.Expire(ctx, q.jobKey(job.ID), q.resultTTL)
		}
		return nil
	})
	return err
}
