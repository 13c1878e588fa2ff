package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"loanflow/internal/domain"
	"loanflow/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) newApplication(requestID string) *domain.Application {
	app := &domain.Application{
		RequestID:       requestID,
		Email:           "jan@example.com",
		MonthlyIncome:   decimal.NewFromInt(40000),
		RequestedAmount: decimal.NewFromInt(100000),
		IncomeSources:   []string{"employment"},
		Status:          domain.StatusSubmitted,
		SubmittedAt:     s.now,
		ExpiresAt:       s.now.Add(24 * time.Hour),
	}
	s.Require().NoError(s.store.CreateApplication(s.ctx, app))
	return app
}

// =============================================================================
// Applications
// =============================================================================

func (s *InMemoryStoreSuite) TestApplications() {
	s.Run("create assigns id and rejects duplicate request id", func() {
		app := s.newApplication("req-1")
		s.NotZero(app.ID)

		err := s.store.CreateApplication(s.ctx, &domain.Application{RequestID: "req-1"})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("reads return copies", func() {
		app := s.newApplication("req-2")
		loaded, err := s.store.FindApplicationByRequestID(s.ctx, "req-2")
		s.Require().NoError(err)

		loaded.Status = domain.StatusApproved
		loaded.IncomeSources[0] = "mutated"

		again, err := s.store.FindApplicationByID(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(domain.StatusSubmitted, again.Status)
		s.Equal([]string{"employment"}, again.IncomeSources)
	})

	s.Run("missing application is not found", func() {
		_, err := s.store.FindApplicationByRequestID(s.ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.ErrorIs(s.store.UpdateApplication(s.ctx, &domain.Application{ID: 999}), sentinel.ErrNotFound)
	})
}

// =============================================================================
// Transactions
// =============================================================================

func (s *InMemoryStoreSuite) TestRunInTx() {
	s.Run("failure rolls back every write", func() {
		app := s.newApplication("req-tx")
		boom := errors.New("boom")

		err := s.store.RunInTx(s.ctx, func(tx Store) error {
			app.Status = domain.StatusVerified
			s.Require().NoError(tx.UpdateApplication(s.ctx, app))
			s.Require().NoError(tx.AppendAudit(s.ctx, &domain.AuditLog{
				ApplicationID: app.ID,
				EventType:     domain.StatusVerified.AuditEventType(),
				CreatedAt:     s.now,
			}))
			return boom
		})
		s.ErrorIs(err, boom)

		loaded, err := s.store.FindApplicationByID(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(domain.StatusSubmitted, loaded.Status)
		audit, err := s.store.ListAudit(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Empty(audit)
	})

	s.Run("nested calls join the outer transaction", func() {
		app := s.newApplication("req-nested")
		err := s.store.RunInTx(s.ctx, func(tx Store) error {
			return tx.RunInTx(s.ctx, func(inner Store) error {
				app.Status = domain.StatusAwaitingVerification
				return inner.UpdateApplication(s.ctx, app)
			})
		})
		s.Require().NoError(err)

		loaded, err := s.store.FindApplicationByID(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(domain.StatusAwaitingVerification, loaded.Status)
	})

	s.Run("cancelled context aborts before running fn", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		called := false
		err := s.store.RunInTx(ctx, func(Store) error {
			called = true
			return nil
		})
		s.Error(err)
		s.False(called)
	})
}

// =============================================================================
// Verifications
// =============================================================================

func (s *InMemoryStoreSuite) TestVerificationQueries() {
	app := s.newApplication("req-v")
	create := func(channel domain.Channel, status domain.VerificationStatus, offset time.Duration) *domain.Verification {
		v := &domain.Verification{
			ApplicationID: app.ID,
			Category:      channel.Category(),
			Channel:       channel,
			Status:        status,
			MaxAttempts:   domain.DefaultMaxAttempts,
			ExpiresAt:     s.now.Add(24 * time.Hour),
			CreatedAt:     s.now.Add(offset),
		}
		s.Require().NoError(s.store.CreateVerification(s.ctx, v))
		return v
	}

	expired := create(domain.ChannelEmail, domain.VerificationExpired, 0)
	pending := create(domain.ChannelEmail, domain.VerificationPending, time.Minute)
	verified := create(domain.ChannelSMS, domain.VerificationVerified, 2*time.Minute)

	open, err := s.store.FindOpenVerifications(s.ctx, app.ID, domain.ChannelEmail)
	s.Require().NoError(err)
	s.Require().Len(open, 2)
	s.Equal(expired.ID, open[0].ID)
	s.Equal(pending.ID, open[1].ID)

	found, err := s.store.FindPendingVerification(s.ctx, app.ID, domain.ChannelEmail)
	s.Require().NoError(err)
	s.Equal(pending.ID, found.ID)

	_, err = s.store.FindPendingVerification(s.ctx, app.ID, domain.ChannelSMS)
	s.ErrorIs(err, sentinel.ErrNotFound)

	latest, err := s.store.FindLatestVerification(s.ctx, app.ID, domain.ChannelSMS)
	s.Require().NoError(err)
	s.Equal(verified.ID, latest.ID)

	all, err := s.store.ListVerifications(s.ctx, app.ID)
	s.Require().NoError(err)
	s.Len(all, 3)

	err = s.store.CreateVerification(s.ctx, &domain.Verification{ApplicationID: 424242, Channel: domain.ChannelSMS})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// =============================================================================
// Audit and enums
// =============================================================================

func (s *InMemoryStoreSuite) TestAuditPublishing() {
	app := s.newApplication("req-a")
	for _, event := range []string{domain.EventApplicationSubmitted, domain.EventVerificationInitiated} {
		s.Require().NoError(s.store.AppendAudit(s.ctx, &domain.AuditLog{
			ApplicationID: app.ID, EventType: event, CreatedAt: s.now,
		}))
	}

	batch, err := s.store.FetchUnpublishedAudit(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(batch, 1)
	s.Equal(domain.EventApplicationSubmitted, batch[0].EventType)

	s.Require().NoError(s.store.MarkAuditPublished(s.ctx, batch[0].ID, s.now))
	count, err := s.store.CountUnpublishedAudit(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *InMemoryStoreSuite) TestEnums() {
	s.store.Seed(DefaultEnumSeeds()...)

	income, err := s.store.FindEnumType(s.ctx, "IncomeSourceEnum")
	s.Require().NoError(err)
	s.True(income.IsMultiSelect)
	s.Require().NotNil(income.MaxSelections)
	s.Equal(6, *income.MaxSelections)

	values, err := s.store.ListActiveEnumValues(s.ctx, income.ID)
	s.Require().NoError(err)
	s.Len(values, 13)
	s.Equal("employment", values[0].Value)

	s.store.PutEnum(domain.EnumType{Name: "HousingTypeEnum", IsActive: false})
	_, err = s.store.FindEnumType(s.ctx, "HousingTypeEnum")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
