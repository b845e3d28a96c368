// Package dispatch sends one queued message through the provider and turns
// the attempt into a persisted record state plus a verdict for the queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/metrics"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/provider"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/ratelimit"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
)

const DefaultSendTimeout = 15 * time.Second

// ErrRateLimited means the recipient is over its window budget. The record is
// left untouched and the attempt should be retried later.
var ErrRateLimited = errors.New("recipient rate limit exceeded")

type Outcome int

const (
	// Done: the provider accepted the message on this attempt.
	Done Outcome = iota
	// Skipped: the record was already accepted by the provider.
	Skipped
	// Retry: the attempt failed transiently.
	Retry
	// Terminal: retrying cannot help.
	Terminal
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	case Retry:
		return "retry"
	case Terminal:
		return "terminal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is what the queue needs to know about an attempt.
type Result struct {
	Outcome Outcome
	Err     error
}

type Dispatcher struct {
	store   repo.MessageRepository
	limiter ratelimit.Limiter
	sender  provider.Sender
	timeout time.Duration
	now     func() time.Time
}

func New(store repo.MessageRepository, limiter ratelimit.Limiter, sender provider.Sender, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{
		store:   store,
		limiter: limiter,
		sender:  sender,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DispatchOne runs a single delivery attempt for message id.
func (d *Dispatcher) DispatchOne(ctx context.Context, id int64) Result {
	res := d.dispatch(ctx, id)
	metrics.Dispatches.WithLabelValues(res.Outcome.String()).Inc()
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, id int64) Result {
	m, err := d.store.GetMessage(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return Result{Outcome: Terminal, Err: fmt.Errorf("message %d: %w", id, err)}
	}
	if err != nil {
		return Result{Outcome: Retry, Err: fmt.Errorf("load message %d: %w", id, err)}
	}

	if m.Status.Delivered() {
		return Result{Outcome: Skipped}
	}

	allowed, err := d.limiter.Allow(ctx, m.To)
	if err != nil {
		return Result{Outcome: Retry, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	if !allowed {
		metrics.RateLimited.Inc()
		return Result{Outcome: Retry, Err: ErrRateLimited}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	start := time.Now()
	sid, err := d.sender.Send(sendCtx, m.To, m.TemplateSID, m.Variables)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	cancel()

	if err != nil {
		return d.handleSendErr(ctx, id, err)
	}

	if err := d.store.MarkSent(ctx, id, sid, d.now()); err != nil {
		if errors.Is(err, repo.ErrSIDConflict) {
			return Result{Outcome: Terminal, Err: fmt.Errorf("message %d sent as %s: %w", id, sid, err)}
		}
		return Result{Outcome: Retry, Err: fmt.Errorf("persist sent message %d sid=%s: %w", id, sid, err)}
	}
	return Result{Outcome: Done}
}

func (d *Dispatcher) handleSendErr(ctx context.Context, id int64, err error) Result {
	var perr *provider.Error
	if !errors.As(err, &perr) {
		metrics.ProviderErrors.WithLabelValues("transport").Inc()
		return Result{Outcome: Retry, Err: err}
	}

	metrics.ProviderErrors.WithLabelValues("rejected").Inc()
	if mErr := d.store.MarkFailed(ctx, id, perr.Code, perr.Message); mErr != nil {
		slog.Error("failed to persist provider error",
			"message_id", id,
			"code", perr.Code,
			"error", mErr,
		)
	}

	if perr.Permanent() {
		return Result{Outcome: Terminal, Err: perr}
	}
	return Result{Outcome: Retry, Err: perr}
}

// Abandon settles a record whose retries ran out, given the error of the last
// attempt. Provider rejections are already persisted and rate-limit deferrals
// never mark a record failed; anything else falls back to a generic failure
// unless the provider has accepted the message in the meantime.
func (d *Dispatcher) Abandon(ctx context.Context, id int64, lastErr error) error {
	if errors.Is(lastErr, ErrRateLimited) {
		return nil
	}
	var perr *provider.Error
	if errors.As(lastErr, &perr) {
		return nil
	}

	msg := "delivery failed after retries"
	if lastErr != nil {
		msg += ": " + lastErr.Error()
	}
	_, err := d.store.MarkFailedUnlessDelivered(ctx, id, "", msg)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return err
}
