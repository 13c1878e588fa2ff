//go:build integration

package enums_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"loanflow/internal/domain"
	"loanflow/internal/enums"
	"loanflow/internal/store"
	"loanflow/pkg/testutil"
	"loanflow/pkg/testutil/containers"
)

type RedisEnumsSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	mem     *store.InMemoryStore
	service *enums.Service
	cache   *enums.RedisCache
}

func TestRedisEnumsSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisEnumsSuite))
}

func (s *RedisEnumsSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisEnumsSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.mem = store.NewInMemory()
	s.mem.Seed(store.DefaultEnumSeeds()...)
	s.cache = enums.NewRedisCache(s.redis.Client)
	s.service = enums.New(s.mem, s.cache, enums.WithLogger(testutil.DiscardLogger()))
}

func (s *RedisEnumsSuite) TestResolveWritesThroughWithTTL() {
	ctx := context.Background()

	_, err := s.service.Resolve(ctx, "HousingTypeEnum")
	s.Require().NoError(err)

	ttl, err := s.redis.Client.TTL(ctx, "enum_info:HousingTypeEnum").Result()
	s.Require().NoError(err)
	s.InDelta(enums.DefaultCacheTTL.Seconds(), ttl.Seconds(), 5)

	_, err = s.cache.Get(ctx, "enum_info:Missing")
	s.ErrorIs(err, enums.ErrCacheMiss)
}

// A published change reaches the subscriber and the next read sees the new values.
func (s *RedisEnumsSuite) TestPublishedChangeRefreshesCache() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	info, err := s.service.Resolve(ctx, "HousingTypeEnum")
	s.Require().NoError(err)
	s.False(info.Contains("houseboat"))

	sub := enums.NewSubscriber(enums.NewRedisBroker(s.redis.Client), s.service,
		enums.WithSubscriberLogger(testutil.DiscardLogger()),
		enums.WithPollTimeout(50*time.Millisecond),
	)
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	publisher := enums.NewRedisBroker(s.redis.NewClient(s.T()))
	s.mem.PutEnum(domain.EnumType{Name: "HousingTypeEnum", IsActive: true},
		domain.EnumValue{Value: "houseboat", DisplayOrder: 1, IsActive: true})

	// the subscription may not be live yet; republish until it is observed
	s.Eventually(func() bool {
		_ = publisher.Publish(ctx, domain.EnumChange{EnumName: "HousingTypeEnum", Action: domain.EnumUpdate})
		data, err := s.cache.Get(ctx, "enum_info:HousingTypeEnum")
		return err == nil && strings.Contains(string(data), `"houseboat"`)
	}, 5*time.Second, 100*time.Millisecond)

	info, err = s.service.Resolve(ctx, "HousingTypeEnum")
	s.Require().NoError(err)
	s.Equal([]string{"houseboat"}, info.ValidValues)

	cancel()
	s.NoError(<-done)
}
