// Package queue is a durable, at-least-once dispatch job queue on Redis.
//
// Layout under the configured prefix:
//
//	<prefix>:ready       list of job ids waiting for a worker (push left, pop right)
//	<prefix>:processing  list of job ids held by a worker
//	<prefix>:delayed     zset of job ids scored by the unix-ms time they become due
//	<prefix>:job:<id>    hash with message_id, retries, enqueued_at
//	<prefix>:lease:<id>  holder token of a job in processing, with a TTL
//
// A job id is derived from the message id, so one message has at most one
// live job. A worker owns a job while its lease exists; Ack, Retry and Extend
// only act for the current holder. Jobs whose lease expired are handed back to
// the ready list by ReclaimExpired. The job hash is removed only on Ack.
package queue

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix   = "wa:dispatch"
	DefaultLeaseTTL = time.Minute

	defaultPollInterval = 100 * time.Millisecond
)

var (
	// ErrEmpty is returned by Dequeue when no job became available in time.
	ErrEmpty = errors.New("queue: empty")
	// ErrLeaseLost means the job is no longer held by the caller: its lease
	// expired and it was reclaimed, or it was already settled.
	ErrLeaseLost = errors.New("queue: lease lost")
)

type Job struct {
	ID         string
	MessageID  int64
	Retries    int
	EnqueuedAt time.Time
	// Lease is the holder token set by Dequeue.
	Lease string
}

// Handle identifies an enqueued job. Duplicate is set when a live job for the
// same message already existed and nothing new was queued.
type Handle struct {
	JobID     string `json:"job_id"`
	MessageID int64  `json:"message_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type Stats struct {
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
}

// Queue is the contract the worker pool depends on.
type Queue interface {
	Enqueue(ctx context.Context, messageID int64) (Handle, error)
	Dequeue(ctx context.Context, timeout time.Duration) (Job, error)
	Extend(ctx context.Context, job Job) error
	Ack(ctx context.Context, job Job) error
	Retry(ctx context.Context, job Job, delay time.Duration) error
	PromoteDue(ctx context.Context) (int, error)
}

var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "message_id", ARGV[1], "retries", "0", "enqueued_at", ARGV[2])
redis.call("LPUSH", KEYS[2], ARGV[3])
return 1
`)

// dequeueScript moves one id to processing and leases it in the same step, so
// the reaper never sees a held job without a lease. Ids whose hash is gone are
// dropped.
var dequeueScript = redis.NewScript(`
while true do
	local id = redis.call("LMOVE", KEYS[1], KEYS[2], "RIGHT", "LEFT")
	if not id then
		return false
	end
	local jk = ARGV[1] .. id
	if redis.call("EXISTS", jk) == 1 then
		redis.call("SET", ARGV[2] .. id, ARGV[3], "PX", ARGV[4])
		return {id,
			redis.call("HGET", jk, "message_id") or "",
			redis.call("HGET", jk, "retries") or "",
			redis.call("HGET", jk, "enqueued_at") or ""}
	end
	redis.call("LREM", KEYS[2], 1, id)
end
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

var ackScript = redis.NewScript(`
if redis.call("GET", KEYS[3]) ~= ARGV[2] then
	return 0
end
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("DEL", KEYS[2], KEYS[3])
return 1
`)

var retryScript = redis.NewScript(`
if redis.call("GET", KEYS[3]) ~= ARGV[2] or redis.call("EXISTS", KEYS[2]) == 0 then
	return 0
end
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("HINCRBY", KEYS[2], "retries", 1)
redis.call("ZADD", KEYS[4], ARGV[3], ARGV[1])
redis.call("DEL", KEYS[3])
return 1
`)

var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LPUSH", KEYS[2], id)
end
return #ids
`)

// reclaimScript returns unleased processing ids to the front of the ready
// list and drops ids whose hash is gone.
var reclaimScript = redis.NewScript(`
local ids = redis.call("LRANGE", KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
	if redis.call("EXISTS", ARGV[1] .. id) == 0 then
		redis.call("LREM", KEYS[1], 1, id)
		if redis.call("EXISTS", ARGV[2] .. id) == 1 then
			redis.call("RPUSH", KEYS[2], id)
			n = n + 1
		end
	end
end
return n
`)

type RedisQueue struct {
	rdb          redis.UniversalClient
	prefix       string
	leaseTTL     time.Duration
	pollInterval time.Duration
	promoteBatch int
	now          func() time.Time
	token        func() string
}

type Option func(*RedisQueue)

// WithLeaseTTL sets how long a dequeued job stays owned without an Extend.
func WithLeaseTTL(d time.Duration) Option {
	return func(q *RedisQueue) {
		if d > 0 {
			q.leaseTTL = d
		}
	}
}

func NewRedisQueue(rdb redis.UniversalClient, prefix string, opts ...Option) *RedisQueue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	q := &RedisQueue{
		rdb:          rdb,
		prefix:       prefix,
		leaseTTL:     DefaultLeaseTTL,
		pollInterval: defaultPollInterval,
		promoteBatch: 100,
		now:          time.Now,
		token:        rand.Text,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func JobID(messageID int64) string {
	return "msg-" + strconv.FormatInt(messageID, 10)
}

func (q *RedisQueue) LeaseTTL() time.Duration { return q.leaseTTL }

func (q *RedisQueue) readyKey() string      { return q.prefix + ":ready" }
func (q *RedisQueue) processingKey() string { return q.prefix + ":processing" }
func (q *RedisQueue) delayedKey() string    { return q.prefix + ":delayed" }
func (q *RedisQueue) jobPrefix() string     { return q.prefix + ":job:" }
func (q *RedisQueue) leasePrefix() string   { return q.prefix + ":lease:" }
func (q *RedisQueue) jobKey(id string) string {
	return q.jobPrefix() + id
}
func (q *RedisQueue) leaseKey(id string) string {
	return q.leasePrefix() + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, messageID int64) (Handle, error) {
	id := JobID(messageID)
	h := Handle{JobID: id, MessageID: messageID}

	created, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.readyKey()},
		messageID, q.now().UnixMilli(), id,
	).Int64()
	if err != nil {
		return Handle{}, fmt.Errorf("enqueue message %d: %w", messageID, err)
	}
	h.Duplicate = created == 0
	return h, nil
}

// Dequeue waits up to timeout for a ready job, moves it to the processing list
// and leases it to the caller. The caller must Ack or Retry it, and Extend the
// lease while the job runs longer than the lease TTL.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, err := q.tryDequeue(ctx)
		if !errors.Is(err, ErrEmpty) {
			return job, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return Job{}, ErrEmpty
		}
		if wait > q.pollInterval {
			wait = q.pollInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return Job{}, ctx.Err()
		case <-t.C:
		}
	}
}

func (q *RedisQueue) tryDequeue(ctx context.Context) (Job, error) {
	token := q.token()
	vals, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.readyKey(), q.processingKey()},
		q.jobPrefix(), q.leasePrefix(), token, q.leaseTTL.Milliseconds(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrEmpty
	}
	if err != nil {
		return Job{}, fmt.Errorf("dequeue: %w", err)
	}
	if len(vals) != 4 {
		return Job{}, fmt.Errorf("dequeue: unexpected reply %q", vals)
	}

	job := Job{ID: vals[0], Lease: token}
	if job.MessageID, err = strconv.ParseInt(vals[1], 10, 64); err != nil {
		q.drop(ctx, job.ID)
		return Job{}, fmt.Errorf("job %s: dropped, bad message_id %q", job.ID, vals[1])
	}
	job.Retries, _ = strconv.Atoi(vals[2])
	if ms, err := strconv.ParseInt(vals[3], 10, 64); err == nil {
		job.EnqueuedAt = time.UnixMilli(ms).UTC()
	}
	return job, nil
}

// drop discards a job whose hash cannot be decoded.
func (q *RedisQueue) drop(ctx context.Context, id string) {
	_, _ = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, id)
		pipe.Del(ctx, q.jobKey(id), q.leaseKey(id))
		return nil
	})
}

// Extend renews the caller's lease for another lease TTL.
func (q *RedisQueue) Extend(ctx context.Context, job Job) error {
	ok, err := extendScript.Run(ctx, q.rdb,
		[]string{q.leaseKey(job.ID)},
		job.Lease, q.leaseTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("extend job %s: %w", job.ID, err)
	}
	if ok == 0 {
		return fmt.Errorf("extend job %s: %w", job.ID, ErrLeaseLost)
	}
	return nil
}

// Ack removes a finished job, successful or abandoned.
func (q *RedisQueue) Ack(ctx context.Context, job Job) error {
	ok, err := ackScript.Run(ctx, q.rdb,
		[]string{q.processingKey(), q.jobKey(job.ID), q.leaseKey(job.ID)},
		job.ID, job.Lease,
	).Int()
	if err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	if ok == 0 {
		return fmt.Errorf("ack job %s: %w", job.ID, ErrLeaseLost)
	}
	return nil
}

// Retry parks the job in the delayed set and bumps its retry counter. It is a
// no-op returning ErrLeaseLost when the caller no longer holds the job.
func (q *RedisQueue) Retry(ctx context.Context, job Job, delay time.Duration) error {
	due := q.now().Add(delay).UnixMilli()
	ok, err := retryScript.Run(ctx, q.rdb,
		[]string{q.processingKey(), q.jobKey(job.ID), q.leaseKey(job.ID), q.delayedKey()},
		job.ID, job.Lease, due,
	).Int()
	if err != nil {
		return fmt.Errorf("retry job %s: %w", job.ID, err)
	}
	if ok == 0 {
		return fmt.Errorf("retry job %s: %w", job.ID, ErrLeaseLost)
	}
	return nil
}

// PromoteDue moves delayed jobs whose time has come back onto the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(), q.readyKey()},
		q.now().UnixMilli(), q.promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// ReclaimExpired hands jobs whose holder stopped renewing the lease (crash,
// lost connection) back to the next worker. Jobs still leased are untouched.
func (q *RedisQueue) ReclaimExpired(ctx context.Context) (int, error) {
	n, err := reclaimScript.Run(ctx, q.rdb,
		[]string{q.processingKey(), q.readyKey()},
		q.leasePrefix(), q.jobPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("reclaim expired jobs: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var ready, processing, delayed *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, q.readyKey())
		processing = pipe.LLen(ctx, q.processingKey())
		delayed = pipe.ZCard(ctx, q.delayedKey())
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Ready:      ready.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
	}, nil
}
