package enums

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"loanflow/internal/domain"
	"loanflow/internal/store"
	dErrors "loanflow/pkg/domain-errors"
)

type fakeCache struct {
	mu        sync.Mutex
	data      map[string][]byte
	ttls      map[string]time.Duration
	getErr    error
	setErr    error
	deleteErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// countingStore counts enum type lookups and can be made to fail.
type countingStore struct {
	store.EnumStore
	mu      sync.Mutex
	lookups int
	err     error
}

func (s *countingStore) FindEnumType(ctx context.Context, name string) (*domain.EnumType, error) {
	s.mu.Lock()
	s.lookups++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.EnumStore.FindEnumType(ctx, name)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// blockingStore parks the first value read after it has loaded, until released.
type blockingStore struct {
	store.EnumStore
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (s *blockingStore) ListActiveEnumValues(ctx context.Context, enumTypeID int64) ([]*domain.EnumValue, error) {
	values, err := s.EnumStore.ListActiveEnumValues(ctx, enumTypeID)
	s.once.Do(func() {
		close(s.loaded)
		<-s.release
	})
	return values, err
}

type ServiceSuite struct {
	suite.Suite
	mem     *store.InMemoryStore
	store   *countingStore
	cache   *fakeCache
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.mem = store.NewInMemory()
	s.mem.Seed(store.DefaultEnumSeeds()...)
	s.store = &countingStore{EnumStore: s.mem}
	s.cache = newFakeCache()
	s.service = New(s.store, s.cache, WithCacheTTL(time.Hour))
	s.ctx = context.Background()
}

func (s *ServiceSuite) TestResolve() {
	s.Run("miss reads the store and writes through", func() {
		info, err := s.service.Resolve(s.ctx, "MaritalStatusEnum")
		s.Require().NoError(err)
		s.Equal([]string{"divorced", "married", "single", "widowed"}, info.ValidValues)
		s.False(info.IsMultiSelect)
		s.True(s.cache.has("enum_info:MaritalStatusEnum"))
		s.Equal(time.Hour, s.cache.ttls["enum_info:MaritalStatusEnum"])
	})

	s.Run("hit does not touch the store", func() {
		before := s.store.count()
		info, err := s.service.Resolve(s.ctx, "MaritalStatusEnum")
		s.Require().NoError(err)
		s.Len(info.ValidValues, 4)
		s.Equal(before, s.store.count())
	})

	s.Run("unknown type is not found", func() {
		_, err := s.service.Resolve(s.ctx, "NoSuchEnum")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("inactive type is not found", func() {
		s.mem.PutEnum(domain.EnumType{Name: "RetiredEnum", IsActive: false},
			domain.EnumValue{Value: "x", IsActive: true})
		_, err := s.service.Resolve(s.ctx, "RetiredEnum")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("store failure is transient", func() {
		s.store.err = errors.New("connection reset")
		defer func() { s.store.err = nil }()
		_, err := s.service.Resolve(s.ctx, "HousingTypeEnum")
		s.True(dErrors.HasCode(err, dErrors.CodeTransient))
	})
}

func (s *ServiceSuite) TestCacheErrorsNeverFailReads() {
	s.cache.getErr = errors.New("redis down")
	s.cache.setErr = errors.New("redis down")

	info, err := s.service.Resolve(s.ctx, "HousingTypeEnum")
	s.Require().NoError(err)
	s.Contains(info.ValidValues, "rent")

	_, err = s.service.Resolve(s.ctx, "HousingTypeEnum")
	s.Require().NoError(err)
	s.Equal(2, s.store.count())
}

func (s *ServiceSuite) TestResolveFullKeepsDisplayOrder() {
	full, err := s.service.ResolveFull(s.ctx, "EducationLevelEnum")
	s.Require().NoError(err)

	s.Equal("EducationLevelEnum", full.EnumType.Name)
	s.Require().Len(full.Values, 6)
	s.Equal("elementary", full.Values[0].Value)
	s.Equal("doctorate", full.Values[5].Value)
	s.True(s.cache.has("enum_full_info:EducationLevelEnum"))

	cached, err := s.service.ResolveFull(s.ctx, "EducationLevelEnum")
	s.Require().NoError(err)
	s.Equal(full.Values, cached.Values)
	s.Equal(full.EnumType.ID, cached.EnumType.ID)
}

func (s *ServiceSuite) TestValidate() {
	tests := []struct {
		name    string
		enum    string
		values  []string
		wantErr bool
	}{
		{"single valid value", "HousingTypeEnum", []string{"rent"}, false},
		{"unknown value", "HousingTypeEnum", []string{"castle"}, true},
		{"two values on single select", "HousingTypeEnum", []string{"rent", "own"}, true},
		{"no value", "HousingTypeEnum", nil, true},
		{"multi select within limit", "IncomeSourceEnum", []string{"employment", "pension"}, false},
		{"multi select over limit", "IncomeSourceEnum",
			[]string{"employment", "business", "pension", "alimony", "unemployed", "foster_care", "part_time_job"}, true},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.service.Validate(s.ctx, tt.enum, tt.values...)
			if tt.wantErr {
				s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
				return
			}
			s.NoError(err)
		})
	}
}

func (s *ServiceSuite) TestInvalidateKeepsCacheCoherent() {
	_, err := s.service.Resolve(s.ctx, "HousingTypeEnum")
	s.Require().NoError(err)
	_, err = s.service.ResolveFull(s.ctx, "HousingTypeEnum")
	s.Require().NoError(err)

	// admin write: a value is added
	s.mem.PutEnum(domain.EnumType{Name: "HousingTypeEnum", IsActive: true},
		domain.EnumValue{Value: "own", DisplayOrder: 1, IsActive: true},
		domain.EnumValue{Value: "houseboat", DisplayOrder: 2, IsActive: true},
	)

	s.Run("stale until invalidated", func() {
		info, err := s.service.Resolve(s.ctx, "HousingTypeEnum")
		s.Require().NoError(err)
		s.False(info.Contains("houseboat"))
	})

	s.Run("refresh repopulates both views from the store", func() {
		s.Require().NoError(s.service.Invalidate(s.ctx, "HousingTypeEnum", true))
		lookups := s.store.count()

		info, err := s.service.Resolve(s.ctx, "HousingTypeEnum")
		s.Require().NoError(err)
		s.Equal([]string{"houseboat", "own"}, info.ValidValues)

		full, err := s.service.ResolveFull(s.ctx, "HousingTypeEnum")
		s.Require().NoError(err)
		s.Len(full.Values, 2)
		s.Equal(lookups, s.store.count(), "reads after refresh must be cache hits")
	})

	s.Run("delete only drops the keys", func() {
		s.Require().NoError(s.service.Invalidate(s.ctx, "HousingTypeEnum", false))
		s.False(s.cache.has("enum_info:HousingTypeEnum"))
		s.False(s.cache.has("enum_full_info:HousingTypeEnum"))
	})
}

func (s *ServiceSuite) TestInvalidateWinsOverInFlightMiss() {
	blocking := &blockingStore{
		EnumStore: s.mem,
		loaded:    make(chan struct{}),
		release:   make(chan struct{}),
	}
	service := New(blocking, s.cache, WithCacheTTL(time.Hour))

	done := make(chan error, 1)
	go func() {
		info, err := service.Resolve(s.ctx, "HousingTypeEnum")
		if err == nil && info.Contains("houseboat") {
			err = errors.New("reader loaded the new definition")
		}
		done <- err
	}()
	<-blocking.loaded

	s.mem.PutEnum(domain.EnumType{Name: "HousingTypeEnum", IsActive: true},
		domain.EnumValue{Value: "houseboat", DisplayOrder: 1, IsActive: true},
	)
	s.Require().NoError(service.Invalidate(s.ctx, "HousingTypeEnum", true))

	close(blocking.release)
	s.Require().NoError(<-done, "the in-flight reader still returns what it loaded")

	info, err := service.Resolve(s.ctx, "HousingTypeEnum")
	s.Require().NoError(err)
	s.Equal([]string{"houseboat"}, info.ValidValues)
}

func (s *ServiceSuite) TestRefreshOverwritesWhenDeleteFails() {
	_, err := s.service.Resolve(s.ctx, "MaritalStatusEnum")
	s.Require().NoError(err)

	s.mem.PutEnum(domain.EnumType{Name: "MaritalStatusEnum", IsActive: true},
		domain.EnumValue{Value: "single", DisplayOrder: 1, IsActive: true},
	)
	s.cache.deleteErr = errors.New("redis timeout")

	s.Require().NoError(s.service.Invalidate(s.ctx, "MaritalStatusEnum", true))

	info, err := s.service.Resolve(s.ctx, "MaritalStatusEnum")
	s.Require().NoError(err)
	s.Equal([]string{"single"}, info.ValidValues)
}

func (s *ServiceSuite) TestInvalidateWithoutRefreshReportsDeleteFailure() {
	s.cache.deleteErr = errors.New("redis timeout")
	err := s.service.Invalidate(s.ctx, "MaritalStatusEnum", false)
	s.True(dErrors.HasCode(err, dErrors.CodeTransient))
}

func (s *ServiceSuite) TestRefreshOfRemovedTypeLeavesCacheEmpty() {
	_, err := s.service.Resolve(s.ctx, "HousingTypeEnum")
	s.Require().NoError(err)
	s.mem.PutEnum(domain.EnumType{Name: "HousingTypeEnum", IsActive: false})

	s.Require().NoError(s.service.Invalidate(s.ctx, "HousingTypeEnum", true))
	s.False(s.cache.has("enum_info:HousingTypeEnum"))

	_, err = s.service.Resolve(s.ctx, "HousingTypeEnum")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestNewPanicsWithoutDependencies() {
	s.Panics(func() { New(nil, s.cache) })
	s.Panics(func() { New(s.store, nil) })
}
