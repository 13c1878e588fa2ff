package verification

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"loanflow/internal/domain"
	"loanflow/internal/store"
	"loanflow/internal/verification/mocks"
	dErrors "loanflow/pkg/domain-errors"
	"loanflow/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	notifier *mocks.MockNotifier
	store    *store.InMemoryStore
	service  *Service
	app      *domain.Application
	codes    []string
	verified []string
	ctx      context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.store = store.NewInMemory()
	s.ctx = testutil.ContextAt(testutil.FixedNow)
	s.codes = []string{"111111", "222222", "333333"}
	s.verified = nil

	next := 0
	s.service = New(s.store, s.notifier,
		WithLogger(testutil.DiscardLogger()),
		WithCodeTTL(time.Hour),
		WithCodeGenerator(func() (string, error) {
			code := s.codes[next%len(s.codes)]
			next++
			return code, nil
		}),
		WithVerifiedHook(func(_ context.Context, requestID string) {
			s.verified = append(s.verified, requestID)
		}),
	)

	s.app = &domain.Application{
		RequestID:       "req-1",
		Email:           "ana@example.com",
		Phone:           "+15550100",
		FullName:        "Ana Example",
		MonthlyIncome:   decimal.NewFromInt(4000),
		RequestedAmount: decimal.NewFromInt(10000),
		Status:          domain.StatusAwaitingVerification,
		SubmittedAt:     testutil.FixedNow,
	}
	s.Require().NoError(s.store.CreateApplication(context.Background(), s.app))
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) expectSend(channel domain.Channel, target string) {
	s.notifier.EXPECT().Send(gomock.Any(), channel, target, gomock.Any()).Return(nil)
}

func (s *ServiceSuite) auditTypes() []string {
	rows, err := s.store.ListAudit(context.Background(), s.app.ID)
	s.Require().NoError(err)
	types := make([]string, 0, len(rows))
	for _, r := range rows {
		types = append(types, r.EventType)
	}
	return types
}

func (s *ServiceSuite) pending(channel domain.Channel) *domain.Verification {
	v, err := s.store.FindPendingVerification(context.Background(), s.app.ID, channel)
	s.Require().NoError(err)
	return v
}

func (s *ServiceSuite) TestInitiateSendsCodeToContactAddress() {
	s.notifier.EXPECT().
		Send(gomock.Any(), domain.ChannelEmail, "ana@example.com", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.Channel, _ string, n domain.Notification) error {
			s.Equal("111111", n.Code)
			s.Equal("req-1", n.RequestID)
			s.Equal(testutil.FixedNow.Add(time.Hour), n.ExpiresAt)
			return nil
		})

	res, err := s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.Category{})
	s.Require().NoError(err)
	s.Equal(domain.VerificationPending, res.Status)
	s.Equal(msgCodeSent, res.Message)

	v := s.pending(domain.ChannelEmail)
	s.Equal(domain.CategoryContact, v.Category)
	s.Equal(domain.DefaultMaxAttempts, v.MaxAttempts)
	s.Equal(0, v.Attempts)
	s.Equal([]string{domain.EventVerificationInitiated}, s.auditTypes())
}

func (s *ServiceSuite) TestInitiateSMSUsesPhone() {
	s.expectSend(domain.ChannelSMS, "+15550100")

	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelSMS, domain.CategoryContact)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestInitiateSupersedesPendingRow() {
	s.notifier.EXPECT().Send(gomock.Any(), domain.ChannelEmail, gomock.Any(), gomock.Any()).Return(nil).Times(2)

	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.Category{})
	s.Require().NoError(err)
	_, err = s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.Category{})
	s.Require().NoError(err)

	rows, err := s.store.ListVerifications(context.Background(), s.app.ID)
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal(domain.VerificationExpired, rows[0].Status)
	s.Equal(domain.VerificationPending, rows[1].Status)
	s.Equal("222222", *rows[1].Code)

	s.Equal([]string{
		domain.EventVerificationInitiated,
		domain.EventVerificationSuperseded,
		domain.EventVerificationInitiated,
	}, s.auditTypes())
}

func (s *ServiceSuite) TestInitiateIdentityNeedsNoNotifier() {
	res, err := s.service.Initiate(s.ctx, s.app, domain.ChannelIdentityDocument, domain.Category{})
	s.Require().NoError(err)
	s.Equal(msgIdentityInitiated, res.Message)

	v := s.pending(domain.ChannelIdentityDocument)
	s.Nil(v.Code)
	s.Equal(domain.CategoryIdentity, v.Category)
}

func (s *ServiceSuite) TestInitiateRejectsCategoryMismatch() {
	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.CategoryIdentity)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(s.auditTypes())
}

func (s *ServiceSuite) TestInitiateIgnoresNotifierFailure() {
	s.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("smtp down"))

	res, err := s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.Category{})
	s.Require().NoError(err)
	s.Equal(domain.VerificationPending, res.Status)
	s.NotNil(s.pending(domain.ChannelEmail))
}

func (s *ServiceSuite) TestVerifyCodeSuccess() {
	s.expectSend(domain.ChannelEmail, "ana@example.com")
	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.Category{})
	s.Require().NoError(err)

	res, err := s.service.VerifyCode(s.ctx, "req-1", "111111", domain.ChannelEmail)
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal(ReasonVerified, res.Reason)
	s.Require().NotNil(res.VerifiedAt)
	s.Equal(testutil.FixedNow, *res.VerifiedAt)
	s.Equal([]string{"req-1"}, s.verified)

	v, err := s.store.FindLatestVerification(context.Background(), s.app.ID, domain.ChannelEmail)
	s.Require().NoError(err)
	s.Equal(domain.VerificationVerified, v.Status)
	s.Equal(1, v.Attempts)
}

func (s *ServiceSuite) TestVerifyCodeTwiceReportsNotFound() {
	s.expectSend(domain.ChannelEmail, "ana@example.com")
	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.Category{})
	s.Require().NoError(err)

	_, err = s.service.VerifyCode(s.ctx, "req-1", "111111", domain.ChannelEmail)
	s.Require().NoError(err)
	res, err := s.service.VerifyCode(s.ctx, "req-1", "111111", domain.ChannelEmail)
	s.Require().NoError(err)
	s.False(res.Success)
	s.Equal(ReasonNotFound, res.Reason)
	s.Len(s.verified, 1)
}

func (s *ServiceSuite) TestVerifyCodeMismatchThenExhaustion() {
	s.expectSend(domain.ChannelSMS, "+15550100")
	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelSMS, domain.Category{})
	s.Require().NoError(err)

	for i := 1; i <= domain.DefaultMaxAttempts; i++ {
		res, err := s.service.VerifyCode(s.ctx, "req-1", "000000", domain.ChannelSMS)
		s.Require().NoError(err)
		s.Equal(ReasonInvalidCode, res.Reason)
		s.Equal(i, s.pending(domain.ChannelSMS).Attempts)
	}

	// the last mismatch leaves the row pending; the next call marks it failed
	v, err := s.store.FindLatestVerification(context.Background(), s.app.ID, domain.ChannelSMS)
	s.Require().NoError(err)
	s.Equal(domain.VerificationPending, v.Status)
	s.Equal(domain.DefaultMaxAttempts, v.Attempts)

	res, err := s.service.VerifyCode(s.ctx, "req-1", "111111", domain.ChannelSMS)
	s.Require().NoError(err)
	s.False(res.Success)
	s.Equal(ReasonMaxAttempts, res.Reason)

	v, err = s.store.FindLatestVerification(context.Background(), s.app.ID, domain.ChannelSMS)
	s.Require().NoError(err)
	s.Equal(domain.VerificationFailed, v.Status)
	s.Equal(domain.DefaultMaxAttempts, v.Attempts)
	s.Empty(s.verified)
}

func (s *ServiceSuite) TestVerifyCodeExpiryTakesPrecedence() {
	s.expectSend(domain.ChannelEmail, "ana@example.com")
	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.Category{})
	s.Require().NoError(err)

	later := testutil.ContextAt(testutil.FixedNow.Add(2 * time.Hour))
	res, err := s.service.VerifyCode(later, "req-1", "111111", domain.ChannelEmail)
	s.Require().NoError(err)
	s.Equal(ReasonExpired, res.Reason)

	v, err := s.store.FindLatestVerification(context.Background(), s.app.ID, domain.ChannelEmail)
	s.Require().NoError(err)
	s.Equal(domain.VerificationExpired, v.Status)
	s.Equal(0, v.Attempts)
	s.Contains(s.auditTypes(), domain.EventVerificationExpired)
}

func (s *ServiceSuite) TestVerifyCodeUnknownApplication() {
	res, err := s.service.VerifyCode(s.ctx, "missing", "111111", domain.ChannelEmail)
	s.Require().NoError(err)
	s.Equal(ReasonApplicationNotFound, res.Reason)
}

func (s *ServiceSuite) TestVerifyCodeRejectsIdentityChannel() {
	_, err := s.service.VerifyCode(s.ctx, "req-1", "111111", domain.ChannelIdentityDocument)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestUpdateManualStatus() {
	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelIdentityDocument, domain.Category{})
	s.Require().NoError(err)

	res, err := s.service.UpdateManualStatus(s.ctx, s.app.ID, domain.VerificationVerified)
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal(ReasonUpdated, res.Reason)
	s.Equal([]string{"req-1"}, s.verified)

	rows, err := s.store.ListAudit(context.Background(), s.app.ID)
	s.Require().NoError(err)
	last := rows[len(rows)-1]
	s.Equal(domain.EventVerificationManualUpdate, last.EventType)
	s.Equal("verified", last.EventData["status"])
	s.Equal("pending", last.EventData["previous_status"])
}

func (s *ServiceSuite) TestUpdateManualStatusFailedDoesNotFireHook() {
	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelIdentityDocument, domain.Category{})
	s.Require().NoError(err)

	res, err := s.service.UpdateManualStatus(s.ctx, s.app.ID, domain.VerificationFailed)
	s.Require().NoError(err)
	s.True(res.Success)
	s.Empty(s.verified)
}

func (s *ServiceSuite) TestUpdateManualStatusWithoutIdentityRow() {
	res, err := s.service.UpdateManualStatus(s.ctx, s.app.ID, domain.VerificationVerified)
	s.Require().NoError(err)
	s.False(res.Success)
	s.Equal(ReasonNotFound, res.Reason)
}

func (s *ServiceSuite) TestUpdateManualStatusRejectsUnknownStatus() {
	_, err := s.service.UpdateManualStatus(s.ctx, s.app.ID, domain.VerificationStatus("approved"))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestUpdateManualStatusByUnknownRequestID() {
	_, err := s.service.UpdateManualStatusByRequestID(s.ctx, "missing", domain.VerificationVerified)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestGetStatusReportsLatestPerChannel() {
	s.notifier.EXPECT().Send(gomock.Any(), domain.ChannelEmail, gomock.Any(), gomock.Any()).Return(nil).Times(2)
	_, err := s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.Category{})
	s.Require().NoError(err)
	_, err = s.service.VerifyCode(s.ctx, "req-1", "111111", domain.ChannelEmail)
	s.Require().NoError(err)
	_, err = s.service.Initiate(s.ctx, s.app, domain.ChannelEmail, domain.Category{})
	s.Require().NoError(err)
	_, err = s.service.Initiate(s.ctx, s.app, domain.ChannelIdentityDocument, domain.Category{})
	s.Require().NoError(err)

	got, err := s.service.GetStatus(s.ctx, s.app.ID)
	s.Require().NoError(err)
	s.Equal(map[domain.Channel]domain.VerificationStatus{
		domain.ChannelEmail:            domain.VerificationPending,
		domain.ChannelIdentityDocument: domain.VerificationPending,
	}, got)
}

func (s *ServiceSuite) TestNewPanicsWithoutStore() {
	s.Panics(func() { New(nil, nil) })
}
