package enums

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"loanflow/internal/domain"
)

// Invalidator is the part of Service the subscriber drives.
type Invalidator interface {
	Invalidate(ctx context.Context, name string, refresh bool) error
}

// Subscriber applies enum change notifications to the cache.
type Subscriber struct {
	broker      Broker
	invalidator Invalidator
	channel     string
	pollTimeout time.Duration
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
	metrics     *Metrics
}

// SubscriberOption configures the Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the subscriber's logger.
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithSubscriberMetrics enables message and reconnect metrics.
func WithSubscriberMetrics(m *Metrics) SubscriberOption {
	return func(s *Subscriber) {
		s.metrics = m
	}
}

// WithPollTimeout bounds how long one receive blocks before the context is rechecked.
func WithPollTimeout(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithBackOff replaces the reconnect policy.
func WithBackOff(newBackOff func() backoff.BackOff) SubscriberOption {
	return func(s *Subscriber) {
		s.newBackOff = newBackOff
	}
}

// NewSubscriber constructs a subscriber on ChangesChannel.
func NewSubscriber(broker Broker, invalidator Invalidator, opts ...SubscriberOption) *Subscriber {
	if broker == nil {
		panic("enums.NewSubscriber: broker is required")
	}
	if invalidator == nil {
		panic("enums.NewSubscriber: invalidator is required")
	}
	s := &Subscriber{
		broker:      broker,
		invalidator: invalidator,
		channel:     ChangesChannel,
		pollTimeout: time.Second,
		newBackOff:  defaultBackOff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run blocks until ctx is cancelled. Broker failures are retried with backoff
// and never returned; the in-flight poll and message are allowed to finish.
func (s *Subscriber) Run(ctx context.Context) error {
	bo := s.newBackOff()
	s.logger.InfoContext(ctx, "enum subscriber started", "channel", s.channel)

	for {
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "enum subscriber stopped")
			return nil
		}

		sub, err := s.broker.Subscribe(ctx, s.channel)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.WarnContext(ctx, "enum subscribe failed", "error", err)
			s.metrics.recordReconnect()
			sleep(ctx, bo.NextBackOff())
			continue
		}
		bo.Reset()

		err = s.consume(ctx, sub)
		if cerr := sub.Close(); cerr != nil {
			s.logger.DebugContext(ctx, "enum subscription close failed", "error", cerr)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "enum subscription lost, reconnecting", "error", err)
			s.metrics.recordReconnect()
			sleep(ctx, bo.NextBackOff())
		}
	}
}

// consume returns nil when ctx is done and the receive error otherwise.
func (s *Subscriber) consume(ctx context.Context, sub Subscription) error {
	work := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		payload, ok, err := sub.Receive(work, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ok {
			s.handle(work, payload)
		}
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	var change domain.EnumChange
	if err := json.Unmarshal(payload, &change); err != nil || change.EnumName == "" {
		s.logger.WarnContext(ctx, "dropping malformed enum change",
			"payload", string(payload),
			"error", err,
		)
		s.metrics.recordDropped()
		return
	}

	refresh := change.Action.Refreshes()
	switch change.Action {
	case domain.EnumInsert, domain.EnumUpdate, domain.EnumDelete:
	default:
		s.logger.WarnContext(ctx, "unknown enum change action, invalidating without refresh",
			"enum_name", change.EnumName,
			"action", string(change.Action),
		)
	}

	if err := s.invalidator.Invalidate(ctx, change.EnumName, refresh); err != nil {
		s.logger.ErrorContext(ctx, "enum invalidation failed",
			"enum_name", change.EnumName,
			"action", string(change.Action),
			"error", err,
		)
		return
	}
	s.metrics.recordHandled(string(change.Action))
	s.logger.DebugContext(ctx, "enum cache invalidated",
		"enum_name", change.EnumName,
		"refresh", refresh,
	)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d == backoff.Stop {
		d = 30 * time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
