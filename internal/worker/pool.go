// Package worker runs N goroutines that pull dispatch jobs from the queue,
// hand them to the dispatcher and apply the retry policy to the verdict.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/dispatch"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/metrics"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/queue"
)

const (
	defaultPollTimeout  = time.Second
	defaultLeaseRefresh = 20 * time.Second
	errorBackoff        = time.Second
)

// Dispatcher is what a worker calls per job.
type Dispatcher interface {
	DispatchOne(ctx context.Context, messageID int64) dispatch.Result
	Abandon(ctx context.Context, messageID int64, lastErr error) error
}

type Config struct {
	Workers int
	// SendRPS caps provider calls per second across the pool; 0 disables it.
	SendRPS     float64
	Policy      queue.RetryPolicy
	PollTimeout time.Duration
	// LeaseRefresh is how often a running job's lease is extended. It must be
	// well below the queue's lease TTL.
	LeaseRefresh time.Duration
}

type Pool struct {
	queue      queue.Queue
	dispatcher Dispatcher
	policy     queue.RetryPolicy
	throttle   *rate.Limiter
	workers    int
	poll       time.Duration
	refresh    time.Duration

	wg sync.WaitGroup
}

func NewPool(q queue.Queue, d Dispatcher, cfg Config) (*Pool, error) {
	if q == nil || d == nil {
		return nil, errors.New("queue and dispatcher are required")
	}
	if cfg.Workers <= 0 {
		return nil, errors.New("workers must be > 0")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		queue:      q,
		dispatcher: d,
		policy:     cfg.Policy,
		workers:    cfg.Workers,
		poll:       cfg.PollTimeout,
		refresh:    cfg.LeaseRefresh,
	}
	if p.poll <= 0 {
		p.poll = defaultPollTimeout
	}
	if p.refresh <= 0 {
		p.refresh = defaultLeaseRefresh
	}
	if cfg.SendRPS > 0 {
		burst := int(cfg.SendRPS)
		if burst < 1 {
			burst = 1
		}
		p.throttle = rate.NewLimiter(rate.Limit(cfg.SendRPS), burst)
	}
	return p, nil
}

// Start launches the workers. They stop picking up jobs once ctx is canceled;
// a job already dequeued is finished first. Use Wait to block until all exit.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, id int) {
	slog.Info("worker started", "worker_id", id)
	defer slog.Info("worker stopped", "worker_id", id)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx, p.poll)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "worker_id", id, "error", err)
			if !sleep(ctx, errorBackoff) {
				return
			}
			continue
		}

		if p.throttle != nil {
			if err := p.throttle.Wait(ctx); err != nil {
				// Still leased; reclaimed once the lease expires.
				slog.Warn("send throttle stopped by context", "worker_id", id, "job_id", job.ID)
				return
			}
		}

		p.handle(context.WithoutCancel(ctx), job)
	}
}

// handle runs one job and settles it on the queue.
func (p *Pool) handle(ctx context.Context, job queue.Job) {
	log := slog.With("job_id", job.ID, "message_id", job.MessageID, "attempt", job.Retries+1)

	stop := p.keepLease(ctx, log, job)
	res := p.dispatcher.DispatchOne(ctx, job.MessageID)
	stop()

	switch res.Outcome {
	case dispatch.Done, dispatch.Skipped:
		log.Info("dispatch completed", "outcome", res.Outcome.String())
		p.ack(ctx, log, job)

	case dispatch.Terminal:
		log.Warn("dispatch failed permanently", "error", res.Err)
		p.ack(ctx, log, job)

	case dispatch.Retry:
		delay, ok := p.policy.Next(job.Retries)
		if ok {
			if err := p.queue.Retry(ctx, job, delay); err != nil {
				logSettleErr(log, "failed to schedule retry", err)
				return
			}
			log.Warn("dispatch will be retried", "error", res.Err, "retry_in", delay.String())
			return
		}

		metrics.RetriesExhausted.Inc()
		log.Error("dispatch retries exhausted", "error", res.Err)
		if err := p.dispatcher.Abandon(ctx, job.MessageID, res.Err); err != nil {
			log.Error("failed to settle exhausted message", "error", err)
		}
		p.ack(ctx, log, job)
	}
}

func (p *Pool) ack(ctx context.Context, log *slog.Logger, job queue.Job) {
	if err := p.queue.Ack(ctx, job); err != nil {
		logSettleErr(log, "failed to ack job", err)
	}
}

// keepLease extends the job's lease in the background until stop is called.
func (p *Pool) keepLease(ctx context.Context, log *slog.Logger, job queue.Job) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(p.refresh)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				err := p.queue.Extend(ctx, job)
				if errors.Is(err, queue.ErrLeaseLost) {
					log.Warn("job lease lost while running", "error", err)
					return
				}
				if err != nil && ctx.Err() == nil {
					log.Warn("failed to extend job lease", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// logSettleErr reports a failed Ack or Retry. A lost lease means the job was
// reclaimed by another worker, which will skip it once the record is sent.
func logSettleErr(log *slog.Logger, msg string, err error) {
	if errors.Is(err, queue.ErrLeaseLost) {
		log.Warn(msg, "error", err)
		return
	}
	log.Error(msg, "error", err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
