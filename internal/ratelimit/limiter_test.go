package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, opts ...Option) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := NewRedisLimiter(rdb, opts...)
	if err != nil {
		t.Fatalf("NewRedisLimiter() error: %v", err)
	}
	return l, mr
}

func TestNewRedisLimiter_InvalidArgs(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisLimiter(nil); err == nil {
		t.Fatalf("expected error for nil client")
	}

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	if _, err := NewRedisLimiter(rdb, WithMaxRequests(0)); err == nil {
		t.Fatalf("expected error for max=0")
	}
	if _, err := NewRedisLimiter(rdb, WithWindow(10*time.Millisecond)); err == nil {
		t.Fatalf("expected error for sub-second window")
	}
}

func TestRedisLimiter_Defaults(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t)
	if l.MaxRequests() != 50 {
		t.Fatalf("expected default max 50, got %d", l.MaxRequests())
	}
	if l.Window() != time.Hour {
		t.Fatalf("expected default window 1h, got %v", l.Window())
	}
}

func TestRedisLimiter_AllowsUpToMaxThenRejects(t *testing.T) {
	t.Parallel()

	l, mr := newTestLimiter(t, WithMaxRequests(5), WithWindow(time.Minute))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ok, err := l.Allow(ctx, "+15550001")
		if err != nil {
			t.Fatalf("Allow() #%d error: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected call #%d to be allowed", i)
		}
	}

	ok, err := l.Allow(ctx, "+15550001")
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ok {
		t.Fatalf("expected call #6 to be rejected")
	}

	ttl := mr.TTL("wa_rate:+15550001")
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected TTL within window, got %v", ttl)
	}
}

func TestRedisLimiter_IdentifiersAreIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, WithMaxRequests(1), WithWindow(time.Minute))
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "a"); !ok {
		t.Fatalf("expected first call for a to be allowed")
	}
	if ok, _ := l.Allow(ctx, "b"); !ok {
		t.Fatalf("expected first call for b to be allowed")
	}
	if ok, _ := l.Allow(ctx, "a"); ok {
		t.Fatalf("expected second call for a to be rejected")
	}
}

func TestRedisLimiter_ResetsAfterWindow(t *testing.T) {
	t.Parallel()

	l, mr := newTestLimiter(t, WithMaxRequests(2), WithWindow(time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.Allow(ctx, "x")
	}
	if ok, _ := l.Allow(ctx, "x"); ok {
		t.Fatalf("expected rejection inside the window")
	}

	mr.FastForward(time.Minute + time.Second)

	ok, err := l.Allow(ctx, "x")
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !ok {
		t.Fatalf("expected allowed after window expiry")
	}
	if n, _ := l.Count(ctx, "x"); n != 2 {
		t.Fatalf("expected counter restarted, got %d", n)
	}
}

func TestRedisLimiter_WindowDoesNotSlide(t *testing.T) {
	t.Parallel()

	l, mr := newTestLimiter(t, WithMaxRequests(10), WithWindow(time.Minute))
	ctx := context.Background()

	_, _ = l.Allow(ctx, "x")
	mr.FastForward(40 * time.Second)
	_, _ = l.Allow(ctx, "x")

	// Later calls must not extend the window started by the first one.
	if ttl := mr.TTL("wa_rate:x"); ttl > 20*time.Second {
		t.Fatalf("expected TTL from the first call, got %v", ttl)
	}
}

func TestRedisLimiter_RepairsMissingExpiry(t *testing.T) {
	t.Parallel()

	l, mr := newTestLimiter(t, WithWindow(time.Minute))
	if err := mr.Set("wa_rate:x", "3"); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	if _, err := l.Allow(context.Background(), "x"); err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ttl := mr.TTL("wa_rate:x"); ttl <= 0 {
		t.Fatalf("expected expiry to be set, got %v", ttl)
	}
}

func TestRedisLimiter_ConcurrentCallsNeverExceedMax(t *testing.T) {
	t.Parallel()

	const max = 20
	l, _ := newTestLimiter(t, WithMaxRequests(max), WithWindow(time.Minute))

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(context.Background(), "hot")
			if err != nil {
				t.Errorf("Allow() error: %v", err)
				return
			}
			if ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != max {
		t.Fatalf("expected exactly %d allowed, got %d", max, got)
	}
}

func TestRedisLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Allow(ctx, "x"); err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}
