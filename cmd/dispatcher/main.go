package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/api"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/client"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/config"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/dispatch"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/metrics"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/queue"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/ratelimit"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/service"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})))

	if err := run(cfg); err != nil {
		slog.Error("dispatcher exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter, err := ratelimit.NewRedisLimiter(rdb,
		ratelimit.WithMaxRequests(cfg.RateLimit.MaxRequests),
		ratelimit.WithWindow(cfg.RateLimit.Window),
		ratelimit.WithPrefix(cfg.RateLimit.Prefix),
	)
	if err != nil {
		return err
	}

	// Jobs held by a previous process are reclaimed by the first maintenance
	// tick once their leases expire.
	q := queue.NewRedisQueue(rdb, cfg.Queue.Prefix, queue.WithLeaseTTL(cfg.Queue.LeaseTTL))

	twilioCfg := client.TwilioConfig{
		AccountSID:     cfg.Twilio.AccountSID,
		AuthToken:      cfg.Twilio.AuthToken,
		FromNumber:     cfg.Twilio.WhatsAppNumber,
		StatusCallback: cfg.Twilio.StatusCallbackURL,
		Timeout:        cfg.Twilio.Timeout,
	}
	sender := client.NewTwilioSender(twilioCfg)
	dispatcher := dispatch.New(store, limiter, sender, cfg.Twilio.Timeout)

	pool, err := worker.NewPool(q, dispatcher, worker.Config{
		Workers:      cfg.Worker.Count,
		SendRPS:      float64(cfg.Worker.SendRPS),
		Policy:       retryPolicy(cfg.Retry),
		LeaseRefresh: q.LeaseTTL() / 3,
	})
	if err != nil {
		return err
	}

	promoter, err := scheduler.New("queue-maintenance", cfg.Queue.PromoteInterval, worker.MaintenanceTick(q))
	if err != nil {
		return err
	}

	templates := service.NewTemplateService(store, client.NewContentClient(twilioCfg))

	var poller *service.ApprovalPoller
	if cfg.TemplateSync.Schedule != "" {
		poller, err = service.NewApprovalPoller(templates, cfg.TemplateSync.Schedule)
		if err != nil {
			return err
		}
	}

	deps := api.Deps{
		Batch:     service.NewBatchSubmitter(store, q),
		Status:    service.NewStatusReconciler(store),
		Templates: templates,
		Messages:  store,
		Queue:     q,
		Promoter:  promoter,
	}
	if cfg.Twilio.ValidateSignature {
		deps.Signature = api.NewSignatureValidator(cfg.Twilio.AuthToken, cfg.Twilio.StatusCallbackURL)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(api.NewHandler(deps))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	pool.Start(ctx)
	promoter.Start(ctx)
	if poller != nil {
		poller.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher starting",
			"addr", cfg.Server.Address,
			"workers", cfg.Worker.Count,
			"rate_limit", limiter.MaxRequests(),
			"rate_window", limiter.Window().String(),
			"lease_ttl", q.LeaseTTL().String(),
			"postgres", cfg.Database.PostgresURL != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		stop()
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	promoter.Stop()
	if poller != nil {
		poller.Stop(shutdownCtx)
	}
	pool.Wait()

	return serveErr
}

// openStore returns the Postgres store when a DSN is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, url string) (repo.Store, func(), error) {
	if url == "" {
		slog.Warn("POSTGRES_URL not set, using in-memory store")
		return repo.NewMemoryStore(), func() {}, nil
	}

	pool, err := repo.Connect(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	store := repo.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

// retryPolicy starts from the queue defaults and applies the configured budget.
func retryPolicy(cfg config.RetryConfig) queue.RetryPolicy {
	p := queue.DefaultRetryPolicy()
	p.MaxRetries = cfg.Max
	if len(cfg.Intervals) > 0 {
		p.Intervals = cfg.Intervals
	}
	return p
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
