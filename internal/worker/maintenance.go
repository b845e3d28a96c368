package worker

import (
	"context"
	"log/slog"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/metrics"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/queue"
)

type maintainedQueue interface {
	ReclaimExpired(ctx context.Context) (int, error)
	PromoteDue(ctx context.Context) (int, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// MaintenanceTick returns a scheduler tick that hands jobs with expired leases
// back to the ready list, moves due retries there too and refreshes the queue
// depth gauges.
func MaintenanceTick(q maintainedQueue) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		reclaimed, err := q.ReclaimExpired(ctx)
		if err != nil {
			return err
		}
		if reclaimed > 0 {
			slog.Warn("reclaimed jobs with expired leases", "count", reclaimed)
		}

		n, err := q.PromoteDue(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Debug("promoted delayed jobs", "count", n)
		}

		stats, err := q.Stats(ctx)
		if err != nil {
			return err
		}
		metrics.QueueDepth.WithLabelValues("ready").Set(float64(stats.Ready))
		metrics.QueueDepth.WithLabelValues("processing").Set(float64(stats.Processing))
		metrics.QueueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
		return nil
	}
}
