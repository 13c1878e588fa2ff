// Package enums resolves enum-backed field policies through a cache-aside read path
// and keeps that cache coherent with the store through pub/sub invalidation.
package enums

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"loanflow/internal/domain"
	"loanflow/internal/store"
	dErrors "loanflow/pkg/domain-errors"
	"loanflow/pkg/platform/sentinel"
)

// Service resolves enum definitions. Reads never fail because of the cache.
type Service struct {
	store   store.EnumStore
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
	group   singleflight.Group

	// genMu guards generations and serialises write-through against Invalidate.
	genMu       sync.Mutex
	generations map[string]uint64
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger used for cache degradation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables cache hit/miss metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New constructs the resolution service. Both the store and the cache are required.
func New(enumStore store.EnumStore, cache Cache, opts ...Option) *Service {
	if enumStore == nil {
		panic("enums.New: store is required")
	}
	if cache == nil {
		panic("enums.New: cache is required")
	}
	s := &Service{
		store:       enumStore,
		cache:       cache,
		ttl:         DefaultCacheTTL,
		logger:      slog.Default(),
		generations: map[string]uint64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the validation summary for an active enum type.
//
// Errors: CodeNotFound when the type is missing or inactive, CodeTransient when the store fails.
func (s *Service) Resolve(ctx context.Context, name string) (*domain.EnumInfo, error) {
	return resolve(ctx, s, "info", infoKey(name), name, domain.NewEnumInfo)
}

// ResolveFull returns the type with its values ordered by display_order.
func (s *Service) ResolveFull(ctx context.Context, name string) (*domain.EnumFullInfo, error) {
	return resolve(ctx, s, "full", fullKey(name), name, domain.NewEnumFullInfo)
}

// Validate checks a submitted selection against the enum's value and cardinality policy.
func (s *Service) Validate(ctx context.Context, name string, values ...string) error {
	info, err := s.Resolve(ctx, name)
	if err != nil {
		return err
	}
	if err := info.Check(values); err != nil {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s: %s", name, err))
	}
	return nil
}

// Invalidate drops both cached views of name. With refresh it reloads them from
// the store without consulting the cache, so a failed delete is still overwritten.
func (s *Service) Invalidate(ctx context.Context, name string, refresh bool) error {
	gen := s.bump(name)
	keys := []string{infoKey(name), fullKey(name)}
	for _, k := range keys {
		s.group.Forget(k)
	}
	delErr := s.cache.Delete(ctx, keys...)
	if delErr != nil {
		s.logger.WarnContext(ctx, "enum cache delete failed",
			"enum_name", name,
			"error", delErr,
		)
	}
	if !refresh {
		if delErr != nil {
			return dErrors.Wrap(delErr, dErrors.CodeTransient, "invalidate enum cache")
		}
		return nil
	}

	t, values, err := s.load(ctx, name)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			// deactivated between publish and refresh; nothing to repopulate
			return nil
		}
		return err
	}
	s.writeIfCurrent(ctx, name, gen, infoKey(name), domain.NewEnumInfo(t, values))
	s.writeIfCurrent(ctx, name, gen, fullKey(name), domain.NewEnumFullInfo(t, values))
	return nil
}

func resolve[T any](ctx context.Context, s *Service, view, key, name string, build func(*domain.EnumType, []*domain.EnumValue) *T) (*T, error) {
	if cached, ok := read[T](ctx, s, key); ok {
		s.metrics.recordHit(view)
		return cached, nil
	}
	s.metrics.recordMiss(view)

	// concurrent misses share one store read; the leader's cancellation must not fail followers
	v, err, _ := s.group.Do(key, func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		gen := s.generation(name)
		t, values, err := s.load(loadCtx, name)
		if err != nil {
			return nil, err
		}
		built := build(t, values)
		s.writeIfCurrent(loadCtx, name, gen, key, built)
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

func read[T any](ctx context.Context, s *Service, key string) (*T, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.WarnContext(ctx, "enum cache read failed, falling back to store",
				"key", key,
				"error", err,
			)
		}
		return nil, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.WarnContext(ctx, "enum cache entry undecodable, falling back to store",
			"key", key,
			"error", err,
		)
		return nil, false
	}
	return &out, true
}

func (s *Service) generation(name string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[name]
}

// bump starts a new generation for name so loads that began earlier cannot write back.
func (s *Service) bump(name string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generations[name]++
	return s.generations[name]
}

// writeIfCurrent skips the write when name was invalidated after gen was read.
func (s *Service) writeIfCurrent(ctx context.Context, name string, gen uint64, key string, value any) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[name] != gen {
		s.logger.DebugContext(ctx, "enum cache write skipped, invalidated during load",
			"key", key,
		)
		return
	}
	s.write(ctx, key, value)
}

func (s *Service) write(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.ErrorContext(ctx, "encode enum cache entry", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "enum cache write failed",
			"key", key,
			"error", err,
		)
	}
}

func (s *Service) load(ctx context.Context, name string) (*domain.EnumType, []*domain.EnumValue, error) {
	t, err := s.store.FindEnumType(ctx, name)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("enum %s not found", name))
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeTransient, "load enum type")
	}
	values, err := s.store.ListActiveEnumValues(ctx, t.ID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeTransient, "load enum values")
	}
	return t, values, nil
}
