// Package scheduler runs a maintenance task on a fixed interval in the
// background, e.g. promoting delayed queue jobs whose backoff has elapsed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type TickFunc func(ctx context.Context) error

type Scheduler struct {
	name     string
	interval time.Duration
	tick     TickFunc

	running  atomic.Bool
	ticks    atomic.Int64
	failures atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(name string, interval time.Duration, tick TickFunc) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tick == nil {
		return nil, errors.New("tick must not be nil")
	}
	if name == "" {
		name = "scheduler"
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		tick:     tick,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the loop; the first tick runs immediately. The loop ends on
// Stop or when parent is canceled. It returns false if already running.
func (s *Scheduler) Start(parent context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.loop(ctx, s.done)
	return true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("scheduler started", "name", s.name, "interval", s.interval.String())

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping", "name", s.name)
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("scheduler stopped", "name", s.name, "ticks", s.ticks.Load(), "failures", s.failures.Load())
	return true
}

func (s *Scheduler) IsRunning() bool { return s.running.Load() }

func (s *Scheduler) Ticks() int64 { return s.ticks.Load() }

// Failures counts ticks that returned an error or panicked.
func (s *Scheduler) Failures() int64 { return s.failures.Load() }

func (s *Scheduler) runTick(ctx context.Context) {
	start := time.Now()
	err := s.safeTick(ctx)
	s.ticks.Add(1)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failures.Add(1)
		slog.Error("scheduler tick failed", "name", s.name, "error", err)
		return
	}
	slog.Debug("scheduler tick completed", "name", s.name, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return s.tick(ctx)
}
