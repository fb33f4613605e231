package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultBatchSize    = 50
	DefaultBatchTimeout = 2 * time.Second
	PollTimeout         = 1 * time.Second // Must be >= 1s to satisfy Redis
	shutdownTimeout     = 5 * time.Second
)

// DB is the subset of pgxpool.Pool the workers write through.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Options tune a queue consumer.
type Options struct {
	BatchSize    int
	BatchTimeout time.Duration
	// RetryDelay is the pause after a Redis outage or a requeue.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = DefaultBatchTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	return o
}

// consumer pops JSON items off a Redis list and hands them to flush in batches.
type consumer[T any] struct {
	rdb   *redis.Client
	queue string
	opts  Options
	flush func(ctx context.Context, batch []T)
	log   zerolog.Logger
}

func (c *consumer[T]) run(ctx context.Context) {
	c.log.Info().
		Str("queue", c.queue).
		Int("batch_size", c.opts.BatchSize).
		Dur("batch_timeout", c.opts.BatchTimeout).
		Msg("Worker started")

	buffer := make([]T, 0, c.opts.BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= c.opts.BatchSize || time.Since(lastFlush) >= c.opts.BatchTimeout) {
			c.flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			c.shutdown(buffer)
			return
		default:
		}

		result, err := c.rdb.BLPop(ctx, PollTimeout, c.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Dur("retry_in", c.opts.RetryDelay).Msg("Redis connection error")
			sleep(ctx, c.opts.RetryDelay)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			c.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

func (c *consumer[T]) shutdown(buffer []T) {
	c.log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer")
	if len(buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	c.flush(ctx, buffer)
}

// requeue pushes items back to the tail of the queue in one round trip.
func (c *consumer[T]) requeue(ctx context.Context, items []T) {
	if len(items) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, c.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	c.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	sleep(ctx, c.opts.RetryDelay)
}

// permanent reports whether retrying the statement can never succeed.
// Classes 22 (data exception) and 23 (integrity violation) are permanent.
func permanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
