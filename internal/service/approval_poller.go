package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultPollTimeout = 2 * time.Minute

type pendingSyncer interface {
	SyncPending(ctx context.Context) (int, error)
}

// ApprovalPoller periodically syncs templates that are waiting for WhatsApp
// review, on a cron schedule such as "@every 10m" or "*/15 * * * *".
type ApprovalPoller struct {
	c       *cron.Cron
	syncer  pendingSyncer
	timeout time.Duration
}

func NewApprovalPoller(syncer pendingSyncer, schedule string) (*ApprovalPoller, error) {
	return newApprovalPoller(syncer, schedule, slog.Default().With("component", "approval-poller"))
}

func newApprovalPoller(syncer pendingSyncer, schedule string, log *slog.Logger) (*ApprovalPoller, error) {
	if syncer == nil {
		return nil, errors.New("syncer must not be nil")
	}
	if schedule == "" {
		return nil, errors.New("schedule must not be empty")
	}

	p := &ApprovalPoller{
		syncer:  syncer,
		timeout: defaultPollTimeout,
	}
	cl := cronLogger{log: log}
	p.c = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		),
	)
	if _, err := p.c.AddFunc(schedule, p.RunOnce); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ApprovalPoller) Start() { p.c.Start() }

// Stop halts the schedule and waits for a running sync, bounded by ctx.
func (p *ApprovalPoller) Stop(ctx context.Context) {
	select {
	case <-p.c.Stop().Done():
	case <-ctx.Done():
	}
}

func (p *ApprovalPoller) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	n, err := p.syncer.SyncPending(ctx)
	if err != nil {
		slog.Error("template approval sync failed", "synced", n, "error", err)
		return
	}
	if n > 0 {
		slog.Info("template approvals synced", "synced", n)
	}
}

// cronLogger routes cron's own logging through slog. Its info output is
// per-tick noise, so it goes to debug.
type cronLogger struct {
	log *slog.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
