package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"loanflow/internal/domain"
	dErrors "loanflow/pkg/domain-errors"
	"loanflow/pkg/platform/sentinel"
)

// InMemoryStore keeps every record in maps guarded by a RWMutex. Reads return
// copies so callers can never mutate stored state.
//
// RunInTx serialises transactions and restores a snapshot when fn fails.
// Writes made outside RunInTx while a transaction is rolling back are lost, so
// services only write inside RunInTx.
type InMemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	nextID        int64
	applications  map[int64]*domain.Application
	byRequestID   map[string]int64
	verifications map[int64]*domain.Verification
	audit         []*domain.AuditLog
	enumTypes     map[string]*domain.EnumType
	enumValues    map[int64][]*domain.EnumValue
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		applications:  make(map[int64]*domain.Application),
		byRequestID:   make(map[string]int64),
		verifications: make(map[int64]*domain.Verification),
		enumTypes:     make(map[string]*domain.EnumType),
		enumValues:    make(map[int64][]*domain.EnumValue),
	}
}

func (s *InMemoryStore) newID() int64 {
	s.nextID++
	return s.nextID
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

type memorySnapshot struct {
	nextID        int64
	applications  map[int64]*domain.Application
	byRequestID   map[string]int64
	verifications map[int64]*domain.Verification
	audit         []*domain.AuditLog
}

func (s *InMemoryStore) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{
		nextID:        s.nextID,
		applications:  make(map[int64]*domain.Application, len(s.applications)),
		byRequestID:   maps.Clone(s.byRequestID),
		verifications: make(map[int64]*domain.Verification, len(s.verifications)),
		audit:         make([]*domain.AuditLog, 0, len(s.audit)),
	}
	for id, app := range s.applications {
		snap.applications[id] = app.Clone()
	}
	for id, v := range s.verifications {
		snap.verifications[id] = v.Clone()
	}
	for _, entry := range s.audit {
		snap.audit = append(snap.audit, entry.Clone())
	}
	return snap
}

func (s *InMemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.applications = snap.applications
	s.byRequestID = snap.byRequestID
	s.verifications = snap.verifications
	s.audit = snap.audit
}

// memoryTx is the Store handed to RunInTx callbacks. Nested RunInTx calls join
// the outer transaction.
type memoryTx struct {
	*InMemoryStore
}

func (t memoryTx) RunInTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

// RunInTx runs fn with all-or-nothing semantics.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(memoryTx{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Applications
// -----------------------------------------------------------------------------

func (s *InMemoryStore) CreateApplication(_ context.Context, app *domain.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byRequestID[app.RequestID]; exists {
		return fmt.Errorf("application %s: %w", app.RequestID, sentinel.ErrConflict)
	}
	app.ID = s.newID()
	s.applications[app.ID] = app.Clone()
	s.byRequestID[app.RequestID] = app.ID
	return nil
}

func (s *InMemoryStore) FindApplicationByID(_ context.Context, id int64) (*domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return app.Clone(), nil
}

func (s *InMemoryStore) FindApplicationByRequestID(_ context.Context, requestID string) (*domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRequestID[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.applications[id].Clone(), nil
}

func (s *InMemoryStore) UpdateApplication(_ context.Context, app *domain.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.applications[app.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.applications[app.ID] = app.Clone()
	return nil
}

// -----------------------------------------------------------------------------
// Verifications
// -----------------------------------------------------------------------------

func (s *InMemoryStore) CreateVerification(_ context.Context, v *domain.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.applications[v.ApplicationID]; !ok {
		return fmt.Errorf("verification for application %d: %w", v.ApplicationID, sentinel.ErrNotFound)
	}
	v.ID = s.newID()
	s.verifications[v.ID] = v.Clone()
	return nil
}

func (s *InMemoryStore) UpdateVerification(_ context.Context, v *domain.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.verifications[v.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.verifications[v.ID] = v.Clone()
	return nil
}

// verificationsFor returns matching rows ordered by creation, oldest first.
// Caller must hold s.mu.
func (s *InMemoryStore) verificationsFor(applicationID int64, match func(*domain.Verification) bool) []*domain.Verification {
	var out []*domain.Verification
	for _, v := range s.verifications {
		if v.ApplicationID == applicationID && match(v) {
			out = append(out, v.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.Verification) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *InMemoryStore) FindOpenVerifications(_ context.Context, applicationID int64, channel domain.Channel) ([]*domain.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.verificationsFor(applicationID, func(v *domain.Verification) bool {
		return v.Channel == channel &&
			(v.Status == domain.VerificationPending || v.Status == domain.VerificationExpired)
	}), nil
}

func (s *InMemoryStore) FindPendingVerification(_ context.Context, applicationID int64, channel domain.Channel) (*domain.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.verificationsFor(applicationID, func(v *domain.Verification) bool {
		return v.Channel == channel && v.Status == domain.VerificationPending
	})
	if len(rows) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return rows[len(rows)-1], nil
}

func (s *InMemoryStore) FindLatestVerification(_ context.Context, applicationID int64, channel domain.Channel) (*domain.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.verificationsFor(applicationID, func(v *domain.Verification) bool {
		return v.Channel == channel
	})
	if len(rows) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return rows[len(rows)-1], nil
}

func (s *InMemoryStore) ListVerifications(_ context.Context, applicationID int64) ([]*domain.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.verificationsFor(applicationID, func(*domain.Verification) bool { return true }), nil
}

// -----------------------------------------------------------------------------
// Audit
// -----------------------------------------------------------------------------

func (s *InMemoryStore) AppendAudit(_ context.Context, entry *domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.newID()
	s.audit = append(s.audit, entry.Clone())
	return nil
}

func (s *InMemoryStore) ListAudit(_ context.Context, applicationID int64) ([]*domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.AuditLog
	for _, entry := range s.audit {
		if entry.ApplicationID == applicationID {
			out = append(out, entry.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) FetchUnpublishedAudit(_ context.Context, limit int) ([]*domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.AuditLog
	for _, entry := range s.audit {
		if entry.PublishedAt != nil {
			continue
		}
		out = append(out, entry.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkAuditPublished(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.audit {
		if entry.ID == id {
			entry.PublishedAt = &at
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryStore) CountUnpublishedAudit(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, entry := range s.audit {
		if entry.PublishedAt == nil {
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

func (s *InMemoryStore) FindEnumType(_ context.Context, name string) (*domain.EnumType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.enumTypes[name]
	if !ok || !t.IsActive {
		return nil, sentinel.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *InMemoryStore) ListActiveEnumValues(_ context.Context, enumTypeID int64) ([]*domain.EnumValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.EnumValue
	for _, v := range s.enumValues[enumTypeID] {
		if v.IsActive {
			c := *v
			out = append(out, &c)
		}
	}
	slices.SortStableFunc(out, func(a, b *domain.EnumValue) int {
		return cmp.Compare(a.DisplayOrder, b.DisplayOrder)
	})
	return out, nil
}

// PutEnum installs or replaces an enum type and its full value list. It
// stands in for the admin path in development mode and tests; callers are
// responsible for publishing the matching invalidation.
func (s *InMemoryStore) PutEnum(t domain.EnumType, values ...domain.EnumValue) *domain.EnumType {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.enumTypes[t.Name]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
		now := time.Now()
		t.UpdatedAt = &now
	} else {
		t.ID = s.newID()
		t.CreatedAt = time.Now()
	}
	stored := t
	s.enumTypes[t.Name] = &stored

	list := make([]*domain.EnumValue, 0, len(values))
	for _, v := range values {
		v.ID = s.newID()
		v.EnumTypeID = t.ID
		if v.CreatedAt.IsZero() {
			v.CreatedAt = stored.CreatedAt
		}
		value := v
		list = append(list, &value)
	}
	s.enumValues[t.ID] = list
	return &stored
}

// Seed installs the given enum definitions.
func (s *InMemoryStore) Seed(seeds ...EnumSeed) {
	for _, seed := range seeds {
		s.PutEnum(seed.Type, seed.Values...)
	}
}
