// internal/queue/redis.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"finthos-payments/internal/util"
)

// priorityStride keeps every priority band above any millisecond timestamp, so the ready
// set orders by priority first and enqueue time second.
const priorityStride = 1e13

// claimScript moves the best ready job into processing and counts the delivery, in one step so a
// job id is never outside every sorted set. A ready id without a payload is dropped.
//
// KEYS: ready, processing, jobs, attempts. ARGV: redelivery deadline ms.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, 0)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local payload = redis.call('HGET', KEYS[3], id)
if not payload then
  redis.call('HDEL', KEYS[4], id)
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
local attempt = redis.call('HINCRBY', KEYS[4], id, 1)
return {id, payload, attempt}
`)

// promoteScript moves due members of a delayed or processing set back to ready.
//
// KEYS: source, ready, jobs, priorities. ARGV: now ms, priority stride, batch size.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  if redis.call('HEXISTS', KEYS[3], id) == 1 then
    local priority = tonumber(redis.call('HGET', KEYS[4], id) or '0')
    local score = priority * tonumber(ARGV[2]) + tonumber(ARGV[1])
    redis.call('ZADD', KEYS[2], string.format('%.0f', score), id)
  end
end
return #ids
`)

// RedisQueue is a Queue backed by Redis sorted sets:
//
//	<prefix>:ready       score = priority*stride + enqueue ms
//	<prefix>:delayed     score = visible-at ms
//	<prefix>:processing  score = redelivery deadline ms
//	<prefix>:jobs        hash of job id -> job JSON
//	<prefix>:attempts    hash of job id -> deliveries so far
//	<prefix>:priorities  hash of job id -> priority
//	<prefix>:dead        list of dead-lettered job JSON
type RedisQueue struct {
	client *redis.Client
	prefix string
	opts   Options
	now    func() time.Time

	mu      sync.Mutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisQueue creates a new RedisQueue.
func NewRedisQueue(client *redis.Client, prefix string, opts Options) *RedisQueue {
	return &RedisQueue{client: client, prefix: prefix, opts: opts.withDefaults(), now: time.Now}
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) key(name string) string { return q.prefix + ":" + name }

func (q *RedisQueue) Enqueue(ctx context.Context, job Job, priority int, delay time.Duration) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return util.ErrQueueClosed
	}

	job.Priority = priority
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job %s: %w", job.ID, err)
	}
	now := q.now()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), job.ID, payload)
		pipe.HSet(ctx, q.key("priorities"), job.ID, priority)
		pipe.HDel(ctx, q.key("attempts"), job.ID)
		if delay > 0 {
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: job.ID})
		} else {
			pipe.ZAdd(ctx, q.key("ready"), redis.Z{Score: readyScore(priority, now), Member: job.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Subscribe(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return util.ErrQueueClosed
	}
	if q.started {
		return errors.New("queue: already subscribed")
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.consume(ctx, handler)
	}
	return nil
}

func (q *RedisQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	var fromReady, fromDelayed *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fromReady = pipe.ZRem(ctx, q.key("ready"), jobID)
		fromDelayed = pipe.ZRem(ctx, q.key("delayed"), jobID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("queue: remove %s: %w", jobID, err)
	}
	if fromReady.Val()+fromDelayed.Val() == 0 {
		return false, nil
	}
	if _, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		q.forget(ctx, pipe, jobID)
		return nil
	}); err != nil {
		return true, fmt.Errorf("queue: drop payload %s: %w", jobID, err)
	}
	return true, nil
}

// forget drops everything stored for a job except its sorted-set membership.
func (q *RedisQueue) forget(ctx context.Context, pipe redis.Pipeliner, jobID string) {
	pipe.HDel(ctx, q.key("jobs"), jobID)
	pipe.HDel(ctx, q.key("attempts"), jobID)
	pipe.HDel(ctx, q.key("priorities"), jobID)
}

func (q *RedisQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	return nil
}

// DeadLetters returns the payloads parked after exhausting their deliveries.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]Job, error) {
	raw, err := q.client.LRange(ctx, q.key("dead"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: read dead letters: %w", err)
	}
	jobs := make([]Job, 0, len(raw))
	for _, r := range raw {
		var job Job
		if err := json.Unmarshal([]byte(r), &job); err != nil {
			return nil, fmt.Errorf("queue: decode dead letter: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *RedisQueue) consume(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	logger := q.opts.Logger.With("component", "redis-queue")
	for {
		if ctx.Err() != nil {
			return
		}
		if err := q.promote(ctx); err != nil && ctx.Err() == nil {
			logger.Error("promoting due jobs", "error", err)
		}
		job, ok, err := q.claim(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("claiming job", "error", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.opts.PollInterval):
			}
			continue
		}
		q.deliver(ctx, handler, job)
	}
}

// promote moves due delayed jobs and expired in-flight jobs back into the ready set.
func (q *RedisQueue) promote(ctx context.Context) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	stride := strconv.FormatInt(int64(priorityStride), 10)
	for _, set := range []string{q.key("delayed"), q.key("processing")} {
		keys := []string{set, q.key("ready"), q.key("jobs"), q.key("priorities")}
		if err := promoteScript.Run(ctx, q.client, keys, now, stride, 100).Err(); err != nil {
			return fmt.Errorf("queue: promote %s: %w", set, err)
		}
	}
	return nil
}

// claim pops the best ready job and marks it in flight.
func (q *RedisQueue) claim(ctx context.Context) (Job, bool, error) {
	deadline := q.now().Add(q.opts.VisibilityTimeout).UnixMilli()
	keys := []string{q.key("ready"), q.key("processing"), q.key("jobs"), q.key("attempts")}
	res, err := claimScript.Run(ctx, q.client, keys, deadline).Slice()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("queue: claim: %w", err)
	}
	if len(res) != 3 {
		return Job{}, false, fmt.Errorf("queue: claim: unexpected reply %v", res)
	}
	id, _ := res[0].(string)
	payload, _ := res[1].(string)
	attempt, _ := res[2].(int64)

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return Job{}, false, fmt.Errorf("queue: decode job %s: %w", id, err)
	}
	job.Attempt = int(attempt)
	return job, true, nil
}

func (q *RedisQueue) deliver(ctx context.Context, handler Handler, job Job) {
	logger := q.opts.Logger.With("job_id", job.ID, "transaction_id", job.TransactionID, "attempt", job.Attempt)
	handlerErr := safeHandle(ctx, handler, job)
	// settle the bookkeeping even when shutdown cancelled the handler
	ctx = context.WithoutCancel(ctx)

	var err error
	switch {
	case handlerErr == nil:
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, q.key("processing"), job.ID)
			q.forget(ctx, pipe, job.ID)
			return nil
		})
	case job.Attempt >= q.opts.MaxDeliveries:
		logger.Error("job dead-lettered", "error", handlerErr)
		payload, _ := json.Marshal(job)
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, q.key("processing"), job.ID)
			q.forget(ctx, pipe, job.ID)
			pipe.RPush(ctx, q.key("dead"), payload)
			return nil
		})
		if q.opts.DeadLetter != nil {
			q.opts.DeadLetter(ctx, job, handlerErr)
		}
	default:
		logger.Warn("job failed, redelivering", "error", handlerErr)
		visibleAt := q.now().Add(q.opts.RetryDelay * time.Duration(job.Attempt))
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, q.key("processing"), job.ID)
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(visibleAt.UnixMilli()), Member: job.ID})
			return nil
		})
	}
	if err != nil {
		logger.Error("acknowledging job", "error", err)
	}
}

func readyScore(priority int, at time.Time) float64 {
	return float64(priority)*priorityStride + float64(at.UnixMilli())
}
