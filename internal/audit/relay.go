package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"loanflow/internal/domain"
	"loanflow/internal/platform/kafka/producer"
	"loanflow/internal/store"
)

// DefaultTopic receives every audit row.
const DefaultTopic = "loanflow.audit.events"

// Publisher sends one message to Kafka and waits for the ack.
type Publisher interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Relay polls unpublished audit rows and publishes them to Kafka, marking each
// row once the broker acknowledged it.
type Relay struct {
	store        store.AuditStore
	publisher    Publisher
	topic        string
	batchSize    int
	pollInterval time.Duration
	drainTimeout time.Duration
	metrics      *Metrics
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RelayOption configures the Relay.
type RelayOption func(*Relay)

// WithTopic sets the Kafka topic.
func WithTopic(topic string) RelayOption {
	return func(r *Relay) {
		if topic != "" {
			r.topic = topic
		}
	}
}

// WithBatchSize sets the maximum number of rows fetched per poll.
func WithBatchSize(size int) RelayOption {
	return func(r *Relay) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithPollInterval sets the interval between polls.
func WithPollInterval(interval time.Duration) RelayOption {
	return func(r *Relay) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// WithDrainTimeout bounds the final flush on Stop.
func WithDrainTimeout(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// NewRelay creates a relay from s to pub.
func NewRelay(s store.AuditStore, pub Publisher, opts ...RelayOption) *Relay {
	if s == nil {
		panic("audit.NewRelay: store is required")
	}
	if pub == nil {
		panic("audit.NewRelay: publisher is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		store:        s,
		publisher:    pub,
		topic:        DefaultTopic,
		batchSize:    100,
		pollInterval: 500 * time.Millisecond,
		drainTimeout: 10 * time.Second,
		logger:       slog.Default(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins polling in a background goroutine.
func (r *Relay) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop cancels polling, drains what is left, and waits for the goroutine or ctx.
func (r *Relay) Stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit relay stop: %w", ctx.Err())
	}
}

func (r *Relay) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.drain()
			return
		case <-ticker.C:
			r.poll(r.ctx)
		}
	}
}

// poll publishes one batch and reports how many rows were published.
func (r *Relay) poll(ctx context.Context) int {
	start := time.Now()
	defer func() { r.metrics.observePoll(time.Since(start)) }()

	if pending, err := r.store.CountUnpublishedAudit(ctx); err == nil {
		r.metrics.setPending(pending)
	}

	entries, err := r.store.FetchUnpublishedAudit(ctx, r.batchSize)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to fetch audit rows", "error", err)
		r.metrics.incFailures()
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	r.metrics.observeBatch(len(entries))

	published := 0
	for _, entry := range entries {
		if err := r.publish(ctx, entry); err != nil {
			r.logger.ErrorContext(ctx, "failed to publish audit row",
				"id", entry.ID,
				"event_type", entry.EventType,
				"error", err,
			)
			r.metrics.incFailures()
			// Later rows may belong to the same application; keep them in order.
			return published
		}
		if err := r.store.MarkAuditPublished(ctx, entry.ID, time.Now()); err != nil {
			// Published but unmarked rows are sent again; consumers dedupe on id.
			r.logger.ErrorContext(ctx, "failed to mark audit row published",
				"id", entry.ID,
				"error", err,
			)
			return published
		}
		r.metrics.incPublished()
		published++
	}
	return published
}

func (r *Relay) publish(ctx context.Context, entry *domain.AuditLog) error {
	start := time.Now()
	value, err := json.Marshal(NewRecord(entry))
	if err != nil {
		return fmt.Errorf("encode audit row: %w", err)
	}
	msg := &producer.Message{
		Topic: r.topic,
		Key:   []byte(strconv.FormatInt(entry.ApplicationID, 10)),
		Value: value,
		Headers: map[string]string{
			"event_type": entry.EventType,
			"audit_id":   strconv.FormatInt(entry.ID, 10),
		},
	}
	if err := r.publisher.Produce(ctx, msg); err != nil {
		return err
	}
	r.metrics.observePublish(time.Since(start))
	return nil
}

// drain flushes remaining rows with a fresh deadline after cancellation.
func (r *Relay) drain() {
	r.logger.Info("draining audit relay")

	ctx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()

	for ctx.Err() == nil {
		if r.poll(ctx) == 0 {
			return
		}
	}
}
