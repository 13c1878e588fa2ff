//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"loanflow/internal/audit"
	"loanflow/internal/platform/kafka"
	"loanflow/internal/platform/kafka/producer"
	"loanflow/internal/store"
	"loanflow/pkg/testutil"
	"loanflow/pkg/testutil/containers"
)

const testTopic = "loanflow.audit.events.test"

type RelayIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestRelayIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelayIntegrationSuite))
}

func (s *RelayIntegrationSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Require().NoError(kafka.EnsureTopics(ctx, s.kafka.Brokers,
		kafka.TopicSpec{Name: testTopic, Partitions: 1, ReplicationFactor: 1},
	))
	// Creating twice must be a no-op.
	s.Require().NoError(kafka.EnsureTopics(ctx, s.kafka.Brokers,
		kafka.TopicSpec{Name: testTopic, Partitions: 1, ReplicationFactor: 1},
	))

	p, err := producer.New(producer.DefaultConfig(s.kafka.Brokers), testutil.DiscardLogger())
	s.Require().NoError(err)
	s.producer = p
}

func (s *RelayIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.NoError(s.producer.Close())
	}
}

func (s *RelayIntegrationSuite) TestRowsReachTopicInOrder() {
	st := store.NewInMemory()
	ctx := testutil.ContextAt(testutil.FixedNow)
	events := []string{"APPLICATION_SUBMITTED", "STATUS_CHANGED_AWAITING_VERIFICATION", "STATUS_CHANGED_VERIFIED"}
	for _, e := range events {
		s.Require().NoError(audit.Emit(ctx, st, 42, e, nil))
	}

	relay := audit.NewRelay(st, s.producer,
		audit.WithTopic(testTopic),
		audit.WithPollInterval(20*time.Millisecond),
		audit.WithLogger(testutil.DiscardLogger()),
	)
	relay.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.NoError(relay.Stop(stopCtx))
	}()

	consumer, err := s.kafka.NewConsumer("relay-it", testTopic)
	s.Require().NoError(err)
	defer consumer.Close()

	records := s.kafka.WaitForRecords(context.Background(), consumer, len(events), 20*time.Second)
	s.Require().Len(records, len(events))
	for i, r := range records {
		s.Equal("42", string(r.Key))
		var rec audit.Record
		s.Require().NoError(json.Unmarshal(r.Value, &rec))
		s.Equal(events[i], rec.EventType)

		var header string
		for _, h := range r.Headers {
			if h.Key == "event_type" {
				header = string(h.Value)
			}
		}
		s.Equal(events[i], header)
	}

	s.Eventually(func() bool {
		n, err := st.CountUnpublishedAudit(context.Background())
		return err == nil && n == 0
	}, 5*time.Second, 50*time.Millisecond)
}
