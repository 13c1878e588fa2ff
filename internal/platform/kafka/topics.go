package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"loanflow/internal/platform/kafka/producer"
)

// TopicSpec describes a topic the service expects to exist.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

// EnsureTopics creates any missing topics. Topics that already exist are left untouched.
func EnsureTopics(ctx context.Context, brokers string, topics ...TopicSpec) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(producer.SplitBrokers(brokers)...))
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()

	admin := kadm.NewClient(client)
	for _, t := range topics {
		resp, err := admin.CreateTopic(ctx, t.Partitions, t.ReplicationFactor, nil, t.Name)
		if err == nil {
			err = resp.Err
		}
		if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Name, err)
		}
	}
	return nil
}
