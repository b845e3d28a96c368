// Package ratelimit caps how many sends a single recipient may receive per
// fixed time window.
//
// Counters live in Redis so that every worker, in every process, shares the
// same view. The window is fixed rather than sliding: a recipient can see up
// to twice the limit across a window boundary, in exchange for a single key
// per recipient.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultMaxRequests = 50
	DefaultWindow      = time.Hour
	DefaultPrefix      = "wa_rate:"
)

// Limiter decides whether one more operation is allowed for identifier.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

// incrWindow increments the counter and starts the window on first use. The
// TTL check also repairs a key that somehow lost its expiry.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("TTL", KEYS[1]) == -1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return n
`)

type RedisLimiter struct {
	rdb         redis.Scripter
	maxRequests int64
	window      time.Duration
	prefix      string
}

type Option func(*RedisLimiter)

func WithMaxRequests(n int) Option {
	return func(l *RedisLimiter) { l.maxRequests = int64(n) }
}

func WithWindow(d time.Duration) Option {
	return func(l *RedisLimiter) { l.window = d }
}

func WithPrefix(prefix string) Option {
	return func(l *RedisLimiter) { l.prefix = prefix }
}

func NewRedisLimiter(rdb redis.Scripter, opts ...Option) (*RedisLimiter, error) {
	l := &RedisLimiter{
		rdb:         rdb,
		maxRequests: DefaultMaxRequests,
		window:      DefaultWindow,
		prefix:      DefaultPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.rdb == nil {
		return nil, errors.New("redis client must not be nil")
	}
	if l.maxRequests <= 0 {
		return nil, errors.New("max requests must be > 0")
	}
	if l.window < time.Second {
		return nil, errors.New("window must be at least 1s")
	}
	return l, nil
}

func (l *RedisLimiter) MaxRequests() int       { return int(l.maxRequests) }
func (l *RedisLimiter) Window() time.Duration { return l.window }

// Allow counts this call against identifier and reports whether the count is
// still within the limit. A rejected call still consumes a slot in the window.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	n, err := l.Count(ctx, identifier)
	if err != nil {
		return false, err
	}
	return n <= l.maxRequests, nil
}

// Count increments and returns the counter for identifier.
func (l *RedisLimiter) Count(ctx context.Context, identifier string) (int64, error) {
	seconds := int64(l.window / time.Second)
	n, err := incrWindow.Run(ctx, l.rdb, []string{l.prefix + identifier}, seconds).Int64()
	if err != nil {
		return 0, fmt.Errorf("rate limit incr %q: %w", identifier, err)
	}
	return n, nil
}
