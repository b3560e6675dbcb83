package store

import (
	"context"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/supportbot/internal/metrics"
)

// NewRedisClient connects to Redis and checks the connection. Every command
// is timed into the redis latency histogram.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	client.AddHook(latencyHook{})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

type latencyHook struct{}

func (latencyHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (latencyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		// Blocking pops measure the poll timeout, not Redis.
		if name := cmd.Name(); name != "blpop" && name != "brpop" && name != "blmove" {
			metrics.RedisLatency.Observe(time.Since(start).Seconds())
		}
		return err
	}
}

func (latencyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
		return err
	}
}
