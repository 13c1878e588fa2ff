// Package application accepts validated loan applications, starts their
// verifications, and reports their progress.
package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loanflow/internal/audit"
	"loanflow/internal/domain"
	"loanflow/internal/store"
	"loanflow/internal/tasks"
	"loanflow/internal/verification"
	"loanflow/internal/workflow"
	dErrors "loanflow/pkg/domain-errors"
	"loanflow/pkg/platform/sentinel"
	"loanflow/pkg/requestcontext"
)

// Enum types the intake form draws its choices from.
const (
	EnumHousingType    = "HousingTypeEnum"
	EnumEducationLevel = "EducationLevelEnum"
	EnumMaritalStatus  = "MaritalStatusEnum"
	EnumIncomeSource   = "IncomeSourceEnum"
)

// DefaultVerificationWindow is how long an applicant has to complete verification.
const DefaultVerificationWindow = 24 * time.Hour

// Verifier starts verifications and reports their status.
type Verifier interface {
	Initiate(ctx context.Context, app *domain.Application, channel domain.Channel, category domain.Category) (*verification.InitiateResult, error)
	GetStatus(ctx context.Context, applicationID int64) (map[domain.Channel]domain.VerificationStatus, error)
}

// EnumValidator checks submitted choices against the current enum definitions.
type EnumValidator interface {
	Validate(ctx context.Context, name string, values ...string) error
}

// CreateRequest is an intake payload that passed boundary validation.
type CreateRequest struct {
	Email                 string
	Phone                 string
	FullName              string
	DateOfBirth           time.Time
	Citizenship           string
	HousingType           string
	Address               string
	EducationLevel        string
	EmploymentStatus      string
	MonthlyIncome         decimal.Decimal
	IncomeSources         []string
	MaritalStatus         string
	ChildrenCount         int
	RequestedAmount       decimal.Decimal
	LoanPurpose           string
	IdentityDocumentFront string
	IdentityDocumentBack  string
}

// CreateResult is returned to the applicant after submission.
type CreateResult struct {
	RequestID            string
	Status               domain.ApplicationStatus
	VerificationRequired bool
	VerificationChannels []domain.Channel
	ExpiresAt            time.Time
}

// StatusView is the applicant-facing progress report.
type StatusView struct {
	RequestID          string
	Status             domain.ApplicationStatus
	SubmittedAt        time.Time
	VerificationStatus map[string]string
	LastUpdated        time.Time
	DecisionReason     *string
	RiskScore          *float64
}

// Service handles application intake.
type Service struct {
	store      store.Store
	verifier   Verifier
	enums      EnumValidator
	dispatcher tasks.Dispatcher
	window     time.Duration
	newID      func() string
	logger     *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithVerificationWindow sets the application expiry window.
func WithVerificationWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithRequestIDGenerator replaces uuid.NewString.
func WithRequestIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// New creates the intake service.
func New(st store.Store, verifier Verifier, enums EnumValidator, dispatcher tasks.Dispatcher, opts ...Option) *Service {
	if st == nil {
		panic("application.New: store is required")
	}
	if verifier == nil {
		panic("application.New: verifier is required")
	}
	if enums == nil {
		panic("application.New: enum validator is required")
	}
	if dispatcher == nil {
		panic("application.New: dispatcher is required")
	}
	s := &Service{
		store:      st,
		verifier:   verifier,
		enums:      enums,
		dispatcher: dispatcher,
		window:     DefaultVerificationWindow,
		newID:      uuid.NewString,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores the application, starts email and sms verification, and
// queues the workflow. Verification and queueing problems after commit are
// logged; the application stays retrievable and resumable.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := s.validateEnums(ctx, req); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	app := &domain.Application{
		RequestID:             s.newID(),
		Email:                 req.Email,
		Phone:                 req.Phone,
		FullName:              req.FullName,
		DateOfBirth:           req.DateOfBirth,
		Citizenship:           req.Citizenship,
		HousingType:           req.HousingType,
		Address:               req.Address,
		EducationLevel:        req.EducationLevel,
		EmploymentStatus:      req.EmploymentStatus,
		MonthlyIncome:         req.MonthlyIncome,
		IncomeSources:         req.IncomeSources,
		MaritalStatus:         req.MaritalStatus,
		ChildrenCount:         req.ChildrenCount,
		RequestedAmount:       req.RequestedAmount,
		LoanPurpose:           req.LoanPurpose,
		IdentityDocumentFront: req.IdentityDocumentFront,
		IdentityDocumentBack:  req.IdentityDocumentBack,
		Status:                domain.StatusSubmitted,
		SubmittedAt:           now,
		ExpiresAt:             now.Add(s.window),
	}

	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}
		return audit.Emit(ctx, tx, app.ID, domain.EventApplicationSubmitted, map[string]any{
			"client": describeClient(requestcontext.UserAgent(ctx)),
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "application already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "create application")
	}

	s.logger.InfoContext(ctx, "application created",
		"request_id", app.RequestID,
		"client_ip", requestcontext.ClientIP(ctx),
	)

	channels := []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}
	if app.IdentityDocumentFront != "" {
		channels = append(channels, domain.ChannelIdentityDocument)
	}
	for _, ch := range channels {
		if _, err := s.verifier.Initiate(ctx, app, ch, domain.Category{}); err != nil {
			s.logger.ErrorContext(ctx, "failed to initiate verification",
				"request_id", app.RequestID,
				"channel", ch.String(),
				"error", err,
			)
		}
	}

	if _, err := s.dispatcher.Enqueue(ctx, workflow.TaskExecute, workflow.StageInput{RequestID: app.RequestID}); err != nil {
		s.logger.ErrorContext(ctx, "failed to queue workflow",
			"request_id", app.RequestID,
			"error", err,
		)
	}

	return &CreateResult{
		RequestID:            app.RequestID,
		Status:               domain.StatusSubmitted,
		VerificationRequired: true,
		VerificationChannels: channels,
		ExpiresAt:            app.ExpiresAt,
	}, nil
}

// Status reports the current state of requestID.
func (s *Service) Status(ctx context.Context, requestID string) (*StatusView, error) {
	app, err := s.store.FindApplicationByRequestID(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "load application")
	}

	statuses, err := s.verifier.GetStatus(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	vs := make(map[string]string, len(statuses))
	for ch, st := range statuses {
		vs[ch.String()] = string(st)
	}

	return &StatusView{
		RequestID:          app.RequestID,
		Status:             app.Status,
		SubmittedAt:        app.SubmittedAt,
		VerificationStatus: vs,
		LastUpdated:        app.LastUpdated(),
		DecisionReason:     app.DecisionReason,
		RiskScore:          app.RiskScore,
	}, nil
}

func (s *Service) validateEnums(ctx context.Context, req CreateRequest) error {
	checks := []struct {
		name   string
		values []string
	}{
		{EnumHousingType, []string{req.HousingType}},
		{EnumEducationLevel, []string{req.EducationLevel}},
		{EnumMaritalStatus, []string{req.MaritalStatus}},
		{EnumIncomeSource, req.IncomeSources},
	}
	for _, c := range checks {
		if err := s.enums.Validate(ctx, c.name, c.values...); err != nil {
			return err
		}
	}
	return nil
}

func validateRequest(req CreateRequest) error {
	switch {
	case strings.TrimSpace(req.Email) == "":
		return dErrors.New(dErrors.CodeValidation, "email is required")
	case strings.TrimSpace(req.Phone) == "":
		return dErrors.New(dErrors.CodeValidation, "phone is required")
	case strings.TrimSpace(req.FullName) == "":
		return dErrors.New(dErrors.CodeValidation, "full name is required")
	case !req.RequestedAmount.IsPositive():
		return dErrors.New(dErrors.CodeValidation, "requested amount must be positive")
	case req.MonthlyIncome.IsNegative():
		return dErrors.New(dErrors.CodeValidation, "monthly income cannot be negative")
	case req.ChildrenCount < 0:
		return dErrors.New(dErrors.CodeValidation, "children count cannot be negative")
	}
	return nil
}
