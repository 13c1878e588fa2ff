package enums

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanflow/pkg/testutil"
)

type invalidation struct {
	name    string
	refresh bool
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []invalidation
}

func (r *recordingInvalidator) Invalidate(_ context.Context, name string, refresh bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, invalidation{name: name, refresh: refresh})
	return nil
}

func (r *recordingInvalidator) snapshot() []invalidation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]invalidation(nil), r.calls...)
}

type chanSubscription struct {
	messages chan []byte
	failures chan error
	closed   chan struct{}
	once     sync.Once
}

func newChanSubscription() *chanSubscription {
	return &chanSubscription{
		messages: make(chan []byte, 16),
		failures: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (s *chanSubscription) Receive(_ context.Context, timeout time.Duration) ([]byte, bool, error) {
	select {
	case m := <-s.messages:
		return m, true, nil
	case err := <-s.failures:
		return nil, false, err
	case <-time.After(timeout):
		return nil, false, nil
	}
}

func (s *chanSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeBroker hands out queued subscriptions, failing while subscribeErrs remain.
type fakeBroker struct {
	mu            sync.Mutex
	subscribeErrs int
	subs          []*chanSubscription
	calls         int
}

func (b *fakeBroker) Subscribe(_ context.Context, _ string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.subscribeErrs > 0 {
		b.subscribeErrs--
		return nil, errors.New("connection refused")
	}
	if len(b.subs) == 0 {
		return nil, errors.New("no subscription queued")
	}
	sub := b.subs[0]
	b.subs = b.subs[1:]
	return sub, nil
}

func (b *fakeBroker) subscribeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func startSubscriber(t *testing.T, broker Broker, inv Invalidator) (cancel func(), done <-chan error) {
	t.Helper()
	sub := NewSubscriber(broker, inv,
		WithSubscriberLogger(testutil.DiscardLogger()),
		WithPollTimeout(10*time.Millisecond),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	ctx, cancelFn := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sub.Run(ctx) }()
	return cancelFn, errc
}

func TestSubscriberAppliesChanges(t *testing.T) {
	sub := newChanSubscription()
	broker := &fakeBroker{subs: []*chanSubscription{sub}}
	inv := &recordingInvalidator{}
	cancel, done := startSubscriber(t, broker, inv)

	sub.messages <- []byte(`{"enum_name":"HousingTypeEnum","action":"insert"}`)
	sub.messages <- []byte(`not json`)
	sub.messages <- []byte(`{"enum_name":"","action":"update"}`)
	sub.messages <- []byte(`{"enum_name":"IncomeSourceEnum","action":"update"}`)
	sub.messages <- []byte(`{"enum_name":"MaritalStatusEnum","action":"delete"}`)
	sub.messages <- []byte(`{"enum_name":"EducationLevelEnum","action":"truncate"}`)

	want := []invalidation{
		{name: "HousingTypeEnum", refresh: true},
		{name: "IncomeSourceEnum", refresh: true},
		{name: "MaritalStatusEnum", refresh: false},
		{name: "EducationLevelEnum", refresh: false},
	}
	assert.Eventually(t, func() bool { return len(inv.snapshot()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, inv.snapshot())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestSubscriberReconnects(t *testing.T) {
	t.Run("after subscribe failures", func(t *testing.T) {
		sub := newChanSubscription()
		broker := &fakeBroker{subscribeErrs: 2, subs: []*chanSubscription{sub}}
		inv := &recordingInvalidator{}
		cancel, done := startSubscriber(t, broker, inv)
		defer func() { cancel(); <-done }()

		sub.messages <- []byte(`{"enum_name":"HousingTypeEnum","action":"update"}`)

		assert.Eventually(t, func() bool { return len(inv.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 3, broker.subscribeCalls())
	})

	t.Run("after a lost connection", func(t *testing.T) {
		first, second := newChanSubscription(), newChanSubscription()
		broker := &fakeBroker{subs: []*chanSubscription{first, second}}
		inv := &recordingInvalidator{}
		cancel, done := startSubscriber(t, broker, inv)
		defer func() { cancel(); <-done }()

		first.failures <- errors.New("connection reset by peer")
		second.messages <- []byte(`{"enum_name":"IncomeSourceEnum","action":"delete"}`)

		assert.Eventually(t, func() bool { return len(inv.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
		select {
		case <-first.closed:
		default:
			t.Fatal("failed subscription was not closed")
		}
	})
}

func TestSubscriberStopsWhileBrokerIsDown(t *testing.T) {
	broker := &fakeBroker{subscribeErrs: 1 << 30}
	cancel, done := startSubscriber(t, broker, &recordingInvalidator{})

	assert.Eventually(t, func() bool { return broker.subscribeCalls() > 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
}
