package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// ConsumerGroup is the stream consumer group every worker joins.
	ConsumerGroup = "loanflow"

	streamPrefix  = "tasks:"
	delayedKey    = "tasks:delayed"
	envelopeField = "envelope"
)

func streamKey(q Queue) string { return streamPrefix + string(q) }

// envelope is the stream payload. Chain lists the steps still to run after Name.
type envelope struct {
	ID         string          `json:"id"`
	Name       Name            `json:"name"`
	Queue      Queue           `json:"queue"`
	Args       json.RawMessage `json:"args"`
	Attempt    int             `json:"attempt"`
	Chain      []Name          `json:"chain,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// RedisQueue dispatches tasks onto Redis Streams, one stream per queue.
type RedisQueue struct {
	client   *redis.Client
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) RedisQueueOption {
	return func(q *RedisQueue) {
		q.logger = logger
	}
}

// NewRedisQueue creates a Redis-backed dispatcher.
func NewRedisQueue(client *redis.Client, registry *Registry, opts ...RedisQueueOption) *RedisQueue {
	if client == nil {
		panic("tasks.NewRedisQueue: redis client is required")
	}
	if registry == nil {
		panic("tasks.NewRedisQueue: registry is required")
	}
	q := &RedisQueue{
		client:   client,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue publishes a single task to its queue's stream.
func (q *RedisQueue) Enqueue(ctx context.Context, name Name, args any) (Handle, error) {
	return q.Chain(ctx, Step{Name: name, Args: args})
}

// Chain publishes the first step; the worker publishes each following step
// only after the previous handler returned.
func (q *RedisQueue) Chain(ctx context.Context, steps ...Step) (Handle, error) {
	defs, err := q.registry.resolve(steps)
	if err != nil {
		return Handle{}, err
	}
	args, err := marshalArgs(steps[0].Args)
	if err != nil {
		return Handle{}, err
	}

	rest := make([]Name, 0, len(steps)-1)
	for _, s := range steps[1:] {
		rest = append(rest, s.Name)
	}
	env := &envelope{
		ID:    uuid.NewString(),
		Name:  defs[0].Name,
		Queue: defs[0].Queue,
		Args:  args,
		Chain: rest,
	}
	if err := q.push(ctx, env); err != nil {
		return Handle{}, err
	}
	return Handle{ID: env.ID}, nil
}

// push XADDs env to its queue's stream.
func (q *RedisQueue) push(ctx context.Context, env *envelope) error {
	env.EnqueuedAt = q.now().UTC()
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode task envelope: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(env.Queue),
		Values: map[string]any{envelopeField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", env.Name, err)
	}
	return nil
}

// schedule parks env in the delayed set until due.
func (q *RedisQueue) schedule(ctx context.Context, env *envelope, due time.Time) error {
	env.EnqueuedAt = q.now().UTC()
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode task envelope: %w", err)
	}
	err = q.client.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule retry of %s: %w", env.Name, err)
	}
	return nil
}

// promoteScript moves due envelopes from the delayed set onto their streams
// atomically, so a retry is never lost or duplicated between the two.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	local env = cjson.decode(member)
	redis.call('XADD', ARGV[3] .. env['queue'], '*', ARGV[4], member)
	redis.call('ZREM', KEYS[1], member)
end
return #due
`)

// promote moves up to limit due retries back onto their streams.
func (q *RedisQueue) promote(ctx context.Context, limit int) (int, error) {
	n, err := promoteScript.Run(ctx, q.client, []string{delayedKey},
		q.now().UnixMilli(), limit, streamPrefix, envelopeField).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed tasks: %w", err)
	}
	return n, nil
}

func decodeEnvelope(values map[string]any) (*envelope, error) {
	raw, ok := values[envelopeField]
	if !ok {
		return nil, fmt.Errorf("stream entry has no %s field", envelopeField)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, fmt.Errorf("unexpected envelope type %T", raw)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode task envelope: %w", err)
	}
	return &env, nil
}

var _ Dispatcher = (*RedisQueue)(nil)
