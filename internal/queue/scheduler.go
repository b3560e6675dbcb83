package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ScheduleRequest describes a recurring job. A nil Repeat runs forever;
// otherwise the job runs once and then Repeat more times.
type ScheduleRequest struct {
	Name     string
	Args     []any
	Meta     map[string]any
	Start    time.Time
	Interval time.Duration
	Repeat   *int
	Timeout  time.Duration
}

// Scheduler keeps recurring jobs in a sorted set scored by their next run
// time and moves due jobs onto the queue.
type Scheduler struct {
	q        *Queue
	key      string
	interval time.Duration
	logger   zerolog.Logger
}

// NewScheduler returns the scheduler that feeds q. interval is how often Run
// polls for due jobs.
func NewScheduler(q *Queue, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		q:        q,
		key:      q.root + "_scheduler",
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule stores a recurring job. Every run reuses the returned job id.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*Job, error) {
	if req.Name == "" {
		return nil, ErrEmptyName
	}
	if req.Interval <= 0 {
		return nil, fmt.Errorf("schedule %s: interval must be positive", req.Name)
	}
	start := req.Start
	if start.IsZero() {
		start = s.q.now()
	}

	job := &Job{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Args:     req.Args,
		Meta:     req.Meta,
		Status:   StatusScheduled,
		Origin:   s.q.name,
		Timeout:  req.Timeout,
		Interval: req.Interval,
		Repeat:   req.Repeat,
		Enqueued: s.q.now().UTC(),
	}
	if job.Meta == nil {
		job.Meta = map[string]any{}
	}
	if job.Timeout <= 0 {
		job.Timeout = DefaultTimeout
	}

	fields, err := job.toHash()
	if err != nil {
		return nil, err
	}
	_, err = s.q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.q.jobKey(job.ID), fields)
		p.ZAdd(ctx, s.key, redis.Z{Score: float64(start.Unix()), Member: job.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", req.Name, err)
	}
	return job, nil
}

// Contains reports whether the job is still scheduled.
func (s *Scheduler) Contains(ctx context.Context, id string) (bool, error) {
	_, err := s.q.rdb.ZScore(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NextRun returns when the job runs next.
func (s *Scheduler) NextRun(ctx context.Context, id string) (time.Time, bool, error) {
	score, err := s.q.rdb.ZScore(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(int64(score), 0).UTC(), true, nil
}

// JobIDs lists scheduled job ids by next run time.
func (s *Scheduler) JobIDs(ctx context.Context) ([]string, error) {
	return s.q.rdb.ZRange(ctx, s.key, 0, -1).Result()
}

// Cancel stops future runs of the job.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	_, err := s.q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.key, id)
		p.LRem(ctx, s.q.listKey(), 0, id)
		p.HSet(ctx, s.q.jobKey(id), "status", string(StatusCanceled), "ended_at", formatTime(s.q.now()))
		p.Expire(ctx, s.q.jobKey(id), s.q.resultTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel scheduled job %s: %w", id, err)
	}
	return nil
}

// EnqueueDue moves every job whose run time has passed onto the queue and
// books its next run. It returns how many jobs were queued.
func (s *Scheduler) EnqueueDue(ctx context.Context) (int, error) {
	now := s.q.now()
	due, err := s.q.rdb.ZRangeByScoreWithScores(ctx, s.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, z := range due {
		id, _ := z.Member.(string)
		job, err := s.q.Fetch(ctx, id)
		if err != nil {
			return queued, err
		}
		if job == nil || job.Status == StatusCanceled {
			s.q.rdb.ZRem(ctx, s.key, id)
			continue
		}

		next := time.Unix(int64(z.Score), 0).Add(job.Interval)
		for !next.After(now) {
			next = next.Add(job.Interval)
		}

		_, err = s.q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.q.jobKey(id), "status", string(StatusQueued))
			p.RPush(ctx, s.q.listKey(), id)
			switch {
			case job.Repeat == nil:
				p.ZAdd(ctx, s.key, redis.Z{Score: float64(next.Unix()), Member: id})
			case *job.Repeat > 0:
				p.HSet(ctx, s.q.jobKey(id), "repeat", strconv.Itoa(*job.Repeat-1))
				p.ZAdd(ctx, s.key, redis.Z{Score: float64(next.Unix()), Member: id})
			default:
				p.ZRem(ctx, s.key, id)
			}
			return nil
		})
		if err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// Run polls for due jobs until ctx is done. Redis errors back off
// exponentially instead of ending the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Str("key", s.key).Dur("interval", s.interval).Msg("scheduler started")

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.interval
	exp.MaxInterval = time.Minute
	exp.MaxElapsedTime = 0
	exp.Reset()

	wait := s.interval
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-time.After(wait):
		}

		n, err := s.EnqueueDue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = exp.NextBackOff()
			s.logger.Error().Err(err).Dur("retry_in", wait).Msg("scheduler poll failed")
			continue
		}
		exp.Reset()
		wait = s.interval
		if n > 0 {
			s.logger.Debug().Int("jobs", n).Msg("queued due jobs")
		}
	}
}
