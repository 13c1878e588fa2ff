package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Worker consumes task streams and applies the shared retry policy.
// Delivery is at-least-once: an entry is acknowledged only after its handler
// returned and any follow-up (next chain step or delayed retry) was stored.
type Worker struct {
	client            *redis.Client
	queue             *RedisQueue
	registry          *Registry
	exec              *executor
	queues            []Queue
	concurrency       int
	pollInterval      time.Duration
	visibilityTimeout time.Duration
	consumerPrefix    string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WorkerOption configures the Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.exec.logger = logger
	}
}

// WithWorkerMetrics enables task metrics.
func WithWorkerMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) {
		w.exec.metrics = m
	}
}

// WithConcurrency sets the number of consumers per queue.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollInterval sets the XREADGROUP block time and the retry promotion period.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithVisibilityTimeout sets how long an unacknowledged entry stays with a
// consumer before another one may reclaim it.
func WithVisibilityTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.visibilityTimeout = d
		}
	}
}

// WithConsumerName overrides the hostname-based consumer prefix.
func WithConsumerName(name string) WorkerOption {
	return func(w *Worker) {
		if name != "" {
			w.consumerPrefix = name
		}
	}
}

// NewWorker creates a worker for queues. An empty queues list consumes every
// queue known to registry.
func NewWorker(client *redis.Client, registry *Registry, queues []Queue, opts ...WorkerOption) *Worker {
	if client == nil {
		panic("tasks.NewWorker: redis client is required")
	}
	if registry == nil {
		panic("tasks.NewWorker: registry is required")
	}
	host, _ := os.Hostname()
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		client:            client,
		queue:             NewRedisQueue(client, registry),
		registry:          registry,
		exec:              &executor{logger: slog.Default()},
		queues:            queues,
		concurrency:       1,
		pollInterval:      time.Second,
		visibilityTimeout: 5 * time.Minute,
		consumerPrefix:    fmt.Sprintf("%s-%d", host, os.Getpid()),
		ctx:               ctx,
		cancel:            cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	if len(w.queues) == 0 {
		w.queues = registry.Queues()
	}
	w.queue.logger = w.exec.logger
	return w
}

// Start launches the consumers, the reclaimers and the retry promoter.
func (w *Worker) Start() {
	for _, q := range w.queues {
		for i := range w.concurrency {
			w.wg.Add(1)
			go w.consume(q, fmt.Sprintf("%s-%s-%d", w.consumerPrefix, q, i))
		}
		w.wg.Add(1)
		go w.reclaimLoop(q)
	}
	w.wg.Add(1)
	go w.promoteLoop()

	w.exec.logger.Info("task worker started",
		"queues", w.queues,
		"concurrency", w.concurrency,
	)
}

// Stop cancels polling and waits for in-flight tasks to finish or ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.exec.logger.Info("task worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) consume(q Queue, consumer string) {
	defer w.wg.Done()

	stream := streamKey(q)
	groupReady := false
	for w.ctx.Err() == nil {
		if !groupReady {
			if err := w.ensureGroup(w.ctx, stream); err != nil {
				w.exec.logger.Error("create consumer group failed", "queue", string(q), "error", err)
				w.pause()
				continue
			}
			groupReady = true
		}

		res, err := w.client.XReadGroup(w.ctx, &redis.XReadGroupArgs{
			Group:    ConsumerGroup,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    w.pollInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || w.ctx.Err() != nil {
				continue
			}
			if strings.HasPrefix(err.Error(), "NOGROUP") {
				groupReady = false
				continue
			}
			w.exec.logger.Error("read task stream failed", "queue", string(q), "error", err)
			w.pause()
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				w.process(q, consumer, msg)
			}
		}
	}
}

// process runs one stream entry. Shutdown does not interrupt it.
func (w *Worker) process(q Queue, consumer string, msg redis.XMessage) {
	ctx := context.WithoutCancel(w.ctx)
	logger := w.exec.logger

	env, err := decodeEnvelope(msg.Values)
	if err != nil {
		logger.Error("dropping undecodable task entry", "queue", string(q), "entry_id", msg.ID, "error", err)
		w.ack(ctx, q, msg.ID)
		return
	}
	def, ok := w.registry.Lookup(env.Name)
	if !ok {
		logger.Error("dropping entry for unregistered task", "queue", string(q), "task", string(env.Name))
		w.ack(ctx, q, msg.ID)
		return
	}

	r := w.exec.attempt(ctx, def, env.ID, env.Args, env.Attempt)
	switch r.outcome {
	case outcomeSucceeded:
		if len(env.Chain) > 0 {
			if err := w.pushNext(ctx, env, r.output); err != nil {
				// left pending; reclaim reruns the idempotent handler and retries the push
				logger.Error("enqueue next chain step failed", "task", string(env.Name), "task_id", env.ID, "error", err)
				return
			}
		}
	case outcomeRetry:
		env.Attempt++
		if err := w.queue.schedule(ctx, env, w.queue.now().Add(r.delay)); err != nil {
			logger.Error("schedule task retry failed", "task", string(env.Name), "task_id", env.ID, "error", err)
			return
		}
	}
	w.ack(ctx, q, msg.ID)
	logger.Debug("task entry processed",
		"queue", string(q),
		"consumer", consumer,
		"task", string(env.Name),
		"outcome", r.outcome.String(),
	)
}

func (w *Worker) pushNext(ctx context.Context, env *envelope, output []byte) error {
	nextName := env.Chain[0]
	def, ok := w.registry.Lookup(nextName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, nextName)
	}
	return w.queue.push(ctx, &envelope{
		ID:    env.ID,
		Name:  def.Name,
		Queue: def.Queue,
		Args:  output,
		Chain: env.Chain[1:],
	})
}

func (w *Worker) ack(ctx context.Context, q Queue, entryID string) {
	if err := w.client.XAck(ctx, streamKey(q), ConsumerGroup, entryID).Err(); err != nil {
		w.exec.logger.Error("ack task entry failed", "queue", string(q), "entry_id", entryID, "error", err)
	}
}

func (w *Worker) ensureGroup(ctx context.Context, stream string) error {
	err := w.client.XGroupCreateMkStream(ctx, stream, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (w *Worker) promoteLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.promote(w.ctx, 100)
			if err != nil {
				if w.ctx.Err() == nil {
					w.exec.logger.Error("promote delayed tasks failed", "error", err)
				}
				continue
			}
			w.exec.metrics.addPromoted(n)
		}
	}
}

func (w *Worker) reclaimLoop(q Queue) {
	defer w.wg.Done()

	interval := max(w.visibilityTimeout/2, w.pollInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consumer := fmt.Sprintf("%s-%s-reclaimer", w.consumerPrefix, q)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.reclaim(q, consumer)
		}
	}
}

// reclaim takes over entries another consumer left pending past the visibility timeout.
func (w *Worker) reclaim(q Queue, consumer string) {
	start := "0-0"
	for w.ctx.Err() == nil {
		msgs, next, err := w.client.XAutoClaim(w.ctx, &redis.XAutoClaimArgs{
			Stream:   streamKey(q),
			Group:    ConsumerGroup,
			Consumer: consumer,
			MinIdle:  w.visibilityTimeout,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if w.ctx.Err() == nil && !strings.HasPrefix(err.Error(), "NOGROUP") {
				w.exec.logger.Error("reclaim task entries failed", "queue", string(q), "error", err)
			}
			return
		}
		w.exec.metrics.recordReclaimed(q, len(msgs))
		for _, msg := range msgs {
			w.process(q, consumer, msg)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

func (w *Worker) pause() {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
	case <-t.C:
	}
}
