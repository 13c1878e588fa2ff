package enums

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"loanflow/internal/domain"
)

// ChangesChannel is the pub/sub channel carrying domain.EnumChange messages.
const ChangesChannel = "enum_changes"

// Broker opens subscriptions on a pub/sub channel.
type Broker interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers raw message payloads.
type Subscription interface {
	// Receive waits up to timeout for the next payload. ok is false when
	// the timeout elapsed without a message; err is set when the connection failed.
	Receive(ctx context.Context, timeout time.Duration) (payload []byte, ok bool, err error)
	Close() error
}

// RedisBroker implements Broker with go-redis PubSub.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker constructs a broker on the shared client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Subscribe waits for the subscription confirmation so connection errors surface here.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close() //nolint:errcheck // subscription never became usable
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return &redisSubscription{ps: ps}, nil
}

// Publish announces a change. Enum administration lives outside this service;
// this is the producer side of the contract it must honour.
func (b *RedisBroker) Publish(ctx context.Context, change domain.EnumChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode enum change: %w", err)
	}
	if err := b.client.Publish(ctx, ChangesChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish enum change: %w", err)
	}
	return nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	msg, err := s.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, false, nil
		}
		return nil, false, err
	}
	switch m := msg.(type) {
	case *redis.Message:
		return []byte(m.Payload), true, nil
	default:
		// subscription confirmations and pongs
		return nil, false, nil
	}
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

var _ Broker = (*RedisBroker)(nil)
