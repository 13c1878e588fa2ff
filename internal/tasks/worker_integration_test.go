//go:build integration

package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"loanflow/internal/tasks"
	"loanflow/pkg/testutil"
	"loanflow/pkg/testutil/containers"
)

type WorkerIntegrationSuite struct {
	suite.Suite
	redis    *containers.RedisContainer
	registry *tasks.Registry
	queue    *tasks.RedisQueue
	worker   *tasks.Worker

	mu      sync.Mutex
	results []string
}

func TestWorkerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(WorkerIntegrationSuite))
}

func (s *WorkerIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *WorkerIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.registry = tasks.NewRegistry()
	s.queue = tasks.NewRedisQueue(s.redis.Client, s.registry, tasks.WithQueueLogger(testutil.DiscardLogger()))
	s.results = nil
}

func (s *WorkerIntegrationSuite) TearDownTest() {
	if s.worker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.NoError(s.worker.Stop(ctx))
		s.worker = nil
	}
}

func (s *WorkerIntegrationSuite) startWorker(opts ...tasks.WorkerOption) {
	opts = append([]tasks.WorkerOption{
		tasks.WithWorkerLogger(testutil.DiscardLogger()),
		tasks.WithPollInterval(50 * time.Millisecond),
	}, opts...)
	s.worker = tasks.NewWorker(s.redis.Client, s.registry, nil, opts...)
	s.worker.Start()
}

func (s *WorkerIntegrationSuite) record(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, v)
}

func (s *WorkerIntegrationSuite) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.results...)
}

func concat(suffix string) tasks.Handler {
	return func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		var v string
		if err := json.Unmarshal(args, &v); err != nil {
			return nil, tasks.Permanent(err)
		}
		return json.Marshal(v + suffix)
	}
}

// Chain steps run on their own queues, in order, each fed by the previous output.
func (s *WorkerIntegrationSuite) TestChainAcrossQueues() {
	s.registry.Register(tasks.Definition{Name: "first", Queue: tasks.QueueProcessing, MaxRetries: 1, Handler: concat("-1")})
	s.registry.Register(tasks.Definition{Name: "second", Queue: tasks.QueueEnrichment, MaxRetries: 1, Handler: concat("-2")})
	s.registry.Register(tasks.Definition{Name: "last", Queue: tasks.QueueScoring, MaxRetries: 1,
		Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			var v string
			_ = json.Unmarshal(args, &v)
			s.record(v)
			return nil, nil
		}})
	s.startWorker()

	_, err := s.queue.Chain(context.Background(),
		tasks.Step{Name: "first", Args: "app"},
		tasks.Step{Name: "second"},
		tasks.Step{Name: "last"},
	)
	s.Require().NoError(err)

	s.Eventually(func() bool { return len(s.recorded()) == 1 }, 5*time.Second, 20*time.Millisecond)
	s.Equal([]string{"app-1-2"}, s.recorded())

	pending, err := s.redis.Client.XPending(context.Background(), "tasks:processing", tasks.ConsumerGroup).Result()
	s.Require().NoError(err)
	s.Zero(pending.Count)
}

// A retried task goes through the delayed set and is promoted back onto its stream.
func (s *WorkerIntegrationSuite) TestDelayedRetryIsPromoted() {
	var calls atomic.Int32
	s.registry.Register(tasks.Definition{
		Name:       "flaky",
		Queue:      tasks.QueueWorkflow,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		Handler: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("not yet")
			}
			s.record("done")
			return nil, nil
		},
	})
	s.startWorker()

	_, err := s.queue.Enqueue(context.Background(), "flaky", map[string]string{"request_id": "r-1"})
	s.Require().NoError(err)

	s.Eventually(func() bool { return len(s.recorded()) == 1 }, 5*time.Second, 20*time.Millisecond)
	s.EqualValues(3, calls.Load())

	remaining, err := s.redis.Client.ZCard(context.Background(), "tasks:delayed").Result()
	s.Require().NoError(err)
	s.Zero(remaining)
}

func (s *WorkerIntegrationSuite) TestExhaustionCallsHook() {
	exhausted := make(chan error, 1)
	s.registry.Register(tasks.Definition{
		Name:       "doomed",
		Queue:      tasks.QueueScoring,
		MaxRetries: 1,
		RetryDelay: 50 * time.Millisecond,
		Handler: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("always")
		},
		OnExhausted: func(_ context.Context, _ json.RawMessage, err error) { exhausted <- err },
	})
	s.startWorker()

	_, err := s.queue.Enqueue(context.Background(), "doomed", nil)
	s.Require().NoError(err)

	select {
	case err := <-exhausted:
		s.EqualError(err, "always")
	case <-time.After(5 * time.Second):
		s.Fail("exhaustion hook not called")
	}
}

// Entries left pending by a consumer that died are reclaimed and run.
func (s *WorkerIntegrationSuite) TestStalledEntryIsReclaimed() {
	ctx := context.Background()
	s.registry.Register(tasks.Definition{Name: "orphan", Queue: tasks.QueueNotifications, MaxRetries: 1,
		Handler: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			s.record("reclaimed")
			return nil, nil
		}})

	_, err := s.queue.Enqueue(ctx, "orphan", nil)
	s.Require().NoError(err)

	// a consumer reads the entry and dies without acknowledging it
	err = s.redis.Client.XGroupCreateMkStream(ctx, "tasks:notifications", tasks.ConsumerGroup, "0").Err()
	s.Require().NoError(err)
	_, err = s.redis.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    tasks.ConsumerGroup,
		Consumer: "crashed",
		Streams:  []string{"tasks:notifications", ">"},
		Count:    1,
	}).Result()
	s.Require().NoError(err)

	s.startWorker(tasks.WithVisibilityTimeout(100 * time.Millisecond))

	s.Eventually(func() bool { return len(s.recorded()) == 1 }, 5*time.Second, 20*time.Millisecond)
}
