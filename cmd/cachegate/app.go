package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/cache"
	"github.com/jonwraymond/cachegate/config"
	"github.com/jonwraymond/cachegate/engine"
	"github.com/jonwraymond/cachegate/freshness"
	"github.com/jonwraymond/cachegate/health"
	"github.com/jonwraymond/cachegate/invalidation"
	"github.com/jonwraymond/cachegate/listener"
	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/quota"
	"github.com/jonwraymond/cachegate/resilience"
	"github.com/jonwraymond/cachegate/server"
	"github.com/jonwraymond/cachegate/webhook"
)

// app owns every long-lived component of a serving process.
type app struct {
	cfg       *config.Config
	logger    observe.Logger
	entries   cache.Store
	counters  quota.CounterStore
	listeners listener.Store
	queue     *asynq.Client
	scheduler *listener.Scheduler
	sweeps    *cron.Cron
	health    *health.Aggregator
	handler   *server.Server
}

func newApp(ctx context.Context, cfg *config.Config, obs observe.Observer) (a *app, err error) {
	a = &app{cfg: cfg, logger: obs.Logger(), health: health.NewAggregator(0)}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	rules, err := freshness.NewRuleSet(cfg.Freshness)
	if err != nil {
		return nil, err
	}

	if a.entries, err = openEntryStore(cfg.Store); err != nil {
		return nil, err
	}
	a.health.Register(health.NewPingChecker("entries", a.entries))

	a.counters = openCounterStore(cfg.Counters)
	a.health.Register(health.NewPingChecker("counters", a.counters))
	guard := quota.NewGuard(a.counters)

	accounts, err := auth.NewMemoryAccountStore(cfg.Accounts...)
	if err != nil {
		return nil, err
	}
	resolver := auth.NewResolver(catalog, []auth.Authenticator{
		auth.NewStaticKeyAuthenticator(accounts),
		auth.NewSigV4Authenticator(auth.SigV4Config{
			Service: cfg.Auth.SigV4Service,
			Region:  cfg.Auth.SigV4Region,
			MaxSkew: cfg.Auth.MaxClockSkew,
		}, accounts),
	}, auth.WithUsage(guard), auth.WithLogger(a.logger))

	eng := engine.New(a.entries,
		engine.WithRules(rules),
		engine.WithPolicy(cfg.Policy),
		engine.WithMiddleware(mw),
	)
	inv := invalidation.New(a.entries,
		invalidation.WithCostPerEntry(cfg.Invalidation.CostPerEntry),
		invalidation.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: cfg.Invalidation.MaxConcurrent,
			MaxWait:       cfg.Invalidation.MaxWait,
		})),
		invalidation.WithLogger(a.logger),
		invalidation.WithMetrics(mw.Metrics()),
	)

	var registry *listener.Registry
	if cfg.Listeners.Enabled {
		if a.listeners, err = openListenerStore(ctx, cfg.Listeners); err != nil {
			return nil, err
		}
		a.health.Register(health.NewPingChecker("listeners", a.listeners))

		fetcher := listener.NewHTTPFetcher(nil)
		registry = listener.NewRegistry(a.listeners, catalog, fetcher,
			listener.WithRegistryLogger(a.logger),
			listener.WithInitialCheckTimeout(cfg.Listeners.CheckTimeout),
		)
		a.scheduler = listener.NewScheduler(a.listeners, fetcher, inv, listener.SchedulerConfig{
			SweepInterval:          cfg.Listeners.SweepInterval,
			Concurrency:            cfg.Listeners.Concurrency,
			CheckTimeout:           cfg.Listeners.CheckTimeout,
			MaxConsecutiveFailures: cfg.Listeners.MaxConsecutiveFailures,
			FailureWindow:          cfg.Listeners.FailureWindow,
			FetchRate:              cfg.Listeners.FetchRate,
		},
			listener.WithNotifier(a.notifier()),
			listener.WithSchedulerLogger(a.logger),
			listener.WithSchedulerMetrics(mw.Metrics()),
		)
		a.health.Register(health.NewSweepChecker("listener_scheduler", a.scheduler, 3))
	}
	a.health.Register(health.NewMemoryChecker(0))

	a.handler = server.New(server.Options{
		Engine:       eng,
		Invalidator:  inv,
		Listeners:    registry,
		Resolver:     resolver,
		Guard:        guard,
		Health:       a.health,
		Gatherer:     obs.Gatherer(),
		Logger:       a.logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	return a, nil
}

func openEntryStore(cfg config.StoreConfig) (cache.Store, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		s, err := cache.OpenBoltStore(cfg.BoltPath, cache.BoltOptions{Retention: cfg.ExpiredRetention})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		return cache.NewRedisStore(cache.RedisStoreConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
			Retention: cfg.ExpiredRetention,
		}), nil
	default:
		return cache.NewMemoryStore(cache.WithRetention(cfg.ExpiredRetention)), nil
	}
}

func openCounterStore(cfg config.CountersConfig) quota.CounterStore {
	if cfg.Backend == config.BackendRedis {
		return quota.NewRedisCounterStore(quota.RedisCounterConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
	}
	return quota.NewMemoryCounterStore()
}

func openListenerStore(ctx context.Context, cfg config.ListenersConfig) (listener.Store, error) {
	if cfg.Backend == config.BackendPostgres {
		s, err := listener.OpenPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return listener.NewMemoryStore(), nil
}

// notifier delivers webhooks in process or hands them to asynq workers.
func (a *app) notifier() webhook.Notifier {
	wh := a.cfg.Webhook
	if wh.Delivery == config.DeliveryQueue {
		a.queue = asynq.NewClient(asynq.RedisClientOpt{Addr: wh.QueueRedisAddr})
		return webhook.NewQueue(a.queue, wh.QueueName, wh.MaxAttempts-1)
	}
	return webhook.NewHTTPNotifier(webhook.Config{
		SigningKey: []byte(wh.SigningKey),
		Timeout:    wh.Timeout,
		Retry:      resilience.RetryConfig{MaxAttempts: wh.MaxAttempts, Jitter: true},
	})
}

// start launches the listener scheduler and, for stores that keep expired
// entries, the retention sweep.
func (a *app) start(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	sweeper, ok := a.entries.(cache.Sweeper)
	if !ok || a.cfg.Store.SweepInterval <= 0 {
		return nil
	}
	a.sweeps = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := a.sweeps.AddFunc(fmt.Sprintf("@every %s", a.cfg.Store.SweepInterval), func() {
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			a.logger.Warn(ctx, "entry sweep failed", observe.F("error", err))
			return
		}
		if n > 0 {
			a.logger.Info(ctx, "entry sweep", observe.F("removed", n))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule entry sweep: %w", err)
	}
	a.sweeps.Start()
	return nil
}

// stop halts background work, waiting at most until ctx ends.
func (a *app) stop(ctx context.Context) error {
	var errs []error
	if a.sweeps != nil {
		select {
		case <-a.sweeps.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop(ctx))
	}
	return errors.Join(errs...)
}

func (a *app) close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.listeners != nil {
		errs = append(errs, a.listeners.Close())
	}
	if a.counters != nil {
		errs = append(errs, a.counters.Close())
	}
	if a.entries != nil {
		errs = append(errs, a.entries.Close())
	}
	return errors.Join(errs...)
}

// loadConfig loads cfg from path and builds the process logger.
func loadConfig(ctx context.Context, path string) (*config.Config, observe.Logger, error) {
	cfg, err := config.Load(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	logger := observe.NewLoggerFromConfig(cfg.Observe.Logging, os.Stderr)
	return cfg, logger, nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
