package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"loanflow/internal/application"
	"loanflow/internal/audit"
	"loanflow/internal/enums"
	"loanflow/internal/notify"
	"loanflow/internal/platform/config"
	"loanflow/internal/platform/database"
	"loanflow/internal/platform/health"
	"loanflow/internal/platform/kafka"
	"loanflow/internal/platform/kafka/producer"
	"loanflow/internal/platform/metrics"
	"loanflow/internal/platform/redis"
	"loanflow/internal/platform/tracer"
	"loanflow/internal/store"
	"loanflow/internal/tasks"
	"loanflow/internal/verification"
	"loanflow/internal/workflow"
)

// lifecycle is a background component started after wiring and stopped on shutdown.
type lifecycle interface {
	Start()
	Stop(ctx context.Context) error
}

type components struct {
	health *health.Handler
	// applications is the handle the intake boundary submits through; it is
	// not served over HTTP by this binary.
	applications *application.Service
	subscriber   *enums.Subscriber

	// started in order, stopped in reverse
	background []lifecycle
	closers    []func() error
}

func (c *components) start() {
	for _, b := range c.background {
		b.Start()
	}
}

func (c *components) stop(ctx context.Context) []error {
	var errs []error
	for i := len(c.background) - 1; i >= 0; i-- {
		if err := c.background[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (c *components) close(log *slog.Logger) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}

// build constructs the service graph. On error every resource opened so far is closed.
func build(ctx context.Context, cfg config.Server, log *slog.Logger, reg prometheus.Registerer) (_ *components, err error) {
	c := &components{health: health.New(cfg.Environment)}
	defer func() {
		if err != nil {
			c.close(log)
		}
	}()

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rdb == nil {
		return nil, errors.New("REDIS_URL is required")
	}
	c.closers = append(c.closers, rdb.Close)
	c.health.RegisterCheck("redis", rdb.Health)
	if err := metrics.RegisterRedis(reg, rdb.Client); err != nil {
		return nil, fmt.Errorf("register redis metrics: %w", err)
	}

	st, err := openStore(ctx, c, cfg, log, reg)
	if err != nil {
		return nil, err
	}

	registry := tasks.NewRegistry()
	taskMetrics := tasks.NewMetrics()
	var dispatcher tasks.Dispatcher
	if cfg.EagerTasks() {
		dispatcher = tasks.NewEager(registry,
			tasks.WithEagerLogger(log),
			tasks.WithEagerMetrics(taskMetrics),
		)
	} else {
		dispatcher = tasks.NewRedisQueue(rdb.Client, registry, tasks.WithQueueLogger(log))
	}

	notify.Register(registry, notify.NewLogTransport(log), log)

	verifications := verification.New(st, notify.NewTaskNotifier(dispatcher),
		verification.WithLogger(log),
		verification.WithMetrics(verification.NewMetrics()),
		verification.WithCodeTTL(cfg.Verification.CodeTTL),
		verification.WithMaxAttempts(cfg.Verification.MaxAttempts),
	)

	orchestrator := workflow.New(st, verifications, dispatcher,
		workflow.WithThresholds(cfg.Workflow.ApproveThreshold, cfg.Workflow.RejectThreshold),
		workflow.WithLogger(log),
		workflow.WithMetrics(workflow.NewMetrics()),
		workflow.WithTracer(tracer.NewOTel()),
	)
	orchestrator.Register(registry)
	verifications.SetVerifiedHook(orchestrator.Trigger)

	enumMetrics := enums.NewMetrics()
	enumService := enums.New(st, enums.NewRedisCache(rdb.Client),
		enums.WithLogger(log),
		enums.WithMetrics(enumMetrics),
		enums.WithCacheTTL(cfg.EnumCacheTTL),
	)
	c.subscriber = enums.NewSubscriber(enums.NewRedisBroker(rdb.Client), enumService,
		enums.WithSubscriberLogger(log),
		enums.WithSubscriberMetrics(enumMetrics),
	)

	// The worker reads its queue set from the registry, so it is built after every Register call.
	if !cfg.EagerTasks() {
		c.background = append(c.background, tasks.NewWorker(rdb.Client, registry, nil,
			tasks.WithWorkerLogger(log),
			tasks.WithWorkerMetrics(taskMetrics),
			tasks.WithConcurrency(cfg.Workflow.WorkerConcurrency),
			tasks.WithPollInterval(cfg.Workflow.PollInterval),
		))
	}

	c.applications = application.New(st, verifications, enumService, dispatcher,
		application.WithLogger(log),
		application.WithVerificationWindow(cfg.Verification.CodeTTL),
	)

	if err := wireAuditRelay(ctx, c, cfg, log, st); err != nil {
		return nil, err
	}
	return c, nil
}

// openStore selects Postgres when DATABASE_URL is set and a seeded in-memory store otherwise.
func openStore(ctx context.Context, c *components, cfg config.Server, log *slog.Logger, reg prometheus.Registerer) (store.Store, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		mem := store.NewInMemory()
		mem.Seed(store.DefaultEnumSeeds()...)
		return mem, nil
	}

	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	c.closers = append(c.closers, pool.Close)
	c.health.RegisterCheck("postgres", pool.Health)
	if err := metrics.RegisterDatabase(reg, pool.DB()); err != nil {
		return nil, fmt.Errorf("register database metrics: %w", err)
	}
	return store.NewPostgres(pool.DB()), nil
}

// wireAuditRelay starts forwarding audit rows to Kafka when brokers are configured.
func wireAuditRelay(ctx context.Context, c *components, cfg config.Server, log *slog.Logger, st store.AuditStore) error {
	if cfg.Kafka.Brokers == "" {
		log.Info("KAFKA_BROKERS not set, audit relay disabled")
		return nil
	}

	if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, kafka.TopicSpec{
		Name:              cfg.Kafka.AuditTopic,
		Partitions:        3,
		ReplicationFactor: 1,
	}); err != nil {
		return fmt.Errorf("ensure audit topic: %w", err)
	}

	prod, err := producer.New(producer.DefaultConfig(cfg.Kafka.Brokers), log)
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	c.closers = append(c.closers, prod.Close)
	c.health.RegisterCheck("kafka", kafka.NewHealthChecker(cfg.Kafka.Brokers).Check)

	c.background = append(c.background, audit.NewRelay(st, prod,
		audit.WithTopic(cfg.Kafka.AuditTopic),
		audit.WithMetrics(audit.NewMetrics()),
		audit.WithLogger(log),
	))
	return nil
}
