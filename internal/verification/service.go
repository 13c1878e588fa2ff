// Package verification owns the per-channel verification state machine: it
// issues codes, checks them against expiry and attempt limits, and records
// manual identity decisions.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loanflow/internal/audit"
	"loanflow/internal/domain"
	"loanflow/internal/store"
	dErrors "loanflow/pkg/domain-errors"
	"loanflow/pkg/platform/sentinel"
	"loanflow/pkg/requestcontext"
)

// Notifier delivers an issued code to the applicant's contact address.
type Notifier interface {
	Send(ctx context.Context, channel domain.Channel, target string, n domain.Notification) error
}

// VerifiedHook is called after a verification reaches verified and the change committed.
type VerifiedHook func(ctx context.Context, requestID string)

// DefaultCodeTTL is how long an issued code stays valid.
const DefaultCodeTTL = 24 * time.Hour

// Service runs verification lifecycles.
type Service struct {
	store       store.Store
	notifier    Notifier
	codeTTL     time.Duration
	maxAttempts int
	generate    func() (string, error)
	onVerified  VerifiedHook
	logger      *slog.Logger
	metrics     *Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables verification metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCodeTTL sets the code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// WithMaxAttempts sets the number of code checks allowed per verification.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCodeGenerator replaces GenerateCode.
func WithCodeGenerator(generate func() (string, error)) Option {
	return func(s *Service) {
		s.generate = generate
	}
}

// WithVerifiedHook registers the callback run after a successful verification.
func WithVerifiedHook(hook VerifiedHook) Option {
	return func(s *Service) {
		s.onVerified = hook
	}
}

// New constructs the verification engine. A nil notifier is only valid when
// no contact channel is ever initiated.
func New(st store.Store, notifier Notifier, opts ...Option) *Service {
	if st == nil {
		panic("verification.New: store is required")
	}
	s := &Service{
		store:       st,
		notifier:    notifier,
		codeTTL:     DefaultCodeTTL,
		maxAttempts: domain.DefaultMaxAttempts,
		generate:    GenerateCode,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetVerifiedHook installs the hook after construction. The workflow
// orchestrator depends on this service, so it can only be wired afterwards.
func (s *Service) SetVerifiedHook(hook VerifiedHook) {
	s.onVerified = hook
}

// Initiate issues a new verification for channel, superseding any open one.
// A zero category is derived from the channel.
func (s *Service) Initiate(ctx context.Context, app *domain.Application, channel domain.Channel, category domain.Category) (*InitiateResult, error) {
	if app == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "application is required")
	}
	if channel.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "verification channel is required")
	}
	if category.IsZero() {
		category = channel.Category()
	}
	if category != channel.Category() {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("channel %s does not belong to category %s", channel, category))
	}

	now := requestcontext.Now(ctx)
	v := &domain.Verification{
		ApplicationID: app.ID,
		Category:      category,
		Channel:       channel,
		Status:        domain.VerificationPending,
		MaxAttempts:   s.maxAttempts,
		ExpiresAt:     now.Add(s.codeTTL),
		CreatedAt:     now,
	}
	if channel.UsesCode() {
		code, err := s.generate()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate verification code")
		}
		v.Code = &code
	}

	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		open, err := tx.FindOpenVerifications(ctx, app.ID, channel)
		if err != nil {
			return err
		}
		for _, old := range open {
			if old.Status != domain.VerificationPending {
				continue
			}
			old.Status = domain.VerificationExpired
			if err := tx.UpdateVerification(ctx, old); err != nil {
				return err
			}
			if err := audit.Emit(ctx, tx, app.ID, domain.EventVerificationSuperseded, map[string]any{
				"channel":         channel.String(),
				"verification_id": old.ID,
			}); err != nil {
				return err
			}
		}
		if err := tx.CreateVerification(ctx, v); err != nil {
			return err
		}
		return audit.Emit(ctx, tx, app.ID, domain.EventVerificationInitiated, map[string]any{
			"channel":    channel.String(),
			"category":   category.String(),
			"expires_at": v.ExpiresAt.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, storeError(err, "initiate verification")
	}
	s.metrics.recordInitiated(channel.String())

	result := &InitiateResult{
		Channel:   channel,
		Status:    v.Status,
		ExpiresAt: v.ExpiresAt,
	}
	if !channel.UsesCode() {
		result.Message = msgIdentityInitiated
		s.logger.InfoContext(ctx, "identity verification initiated", "request_id", app.RequestID)
		return result, nil
	}

	result.Message = msgCodeSent
	s.notify(ctx, app, v)
	s.logger.InfoContext(ctx, "verification initiated",
		"request_id", app.RequestID,
		"channel", channel.String(),
	)
	return result, nil
}

// InitiateByRequestID resolves the application and calls Initiate.
func (s *Service) InitiateByRequestID(ctx context.Context, requestID string, channel domain.Channel) (*InitiateResult, error) {
	app, err := s.store.FindApplicationByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
		}
		return nil, storeError(err, "find application")
	}
	return s.Initiate(ctx, app, channel, domain.Category{})
}

// notify hands the code to the notifier. Delivery problems never fail initiation;
// the applicant can request a new code.
func (s *Service) notify(ctx context.Context, app *domain.Application, v *domain.Verification) {
	if s.notifier == nil {
		s.logger.WarnContext(ctx, "no notifier configured, code not sent", "channel", v.Channel.String())
		s.metrics.recordNotifyFailure(v.Channel.String())
		return
	}
	target := app.Email
	if v.Channel == domain.ChannelSMS {
		target = app.Phone
	}
	n := domain.Notification{
		RequestID: app.RequestID,
		Code:      *v.Code,
		ExpiresAt: v.ExpiresAt,
	}
	if err := s.notifier.Send(ctx, v.Channel, target, n); err != nil {
		s.metrics.recordNotifyFailure(v.Channel.String())
		s.logger.ErrorContext(ctx, "failed to dispatch verification code",
			"request_id", app.RequestID,
			"channel", v.Channel.String(),
			"error", err,
		)
	}
}

// VerifyCode checks a submitted code against the pending verification for channel.
// Expiry is evaluated before the attempt limit; neither consumes an attempt.
func (s *Service) VerifyCode(ctx context.Context, requestID, code string, channel domain.Channel) (*Result, error) {
	if !channel.UsesCode() {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("channel %s is not verified with a code", channel))
	}

	var result *Result
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		app, err := tx.FindApplicationByRequestID(ctx, requestID)
		if errors.Is(err, sentinel.ErrNotFound) {
			result = failure(ReasonApplicationNotFound, msgApplicationNotFound)
			return nil
		}
		if err != nil {
			return err
		}

		v, err := tx.FindPendingVerification(ctx, app.ID, channel)
		if errors.Is(err, sentinel.ErrNotFound) {
			result = failure(ReasonNotFound, msgVerificationNotFound)
			return nil
		}
		if err != nil {
			return err
		}

		check := v.CheckCode(func(stored string) bool { return codesMatch(stored, code) }, requestcontext.Now(ctx))
		var event string
		switch check {
		case domain.CheckVerified:
			event = domain.EventVerificationVerified
			result = &Result{Success: true, Reason: ReasonVerified, Message: msgVerified, VerifiedAt: v.VerifiedAt}
		case domain.CheckExpired:
			event = domain.EventVerificationExpired
			result = failure(ReasonExpired, msgExpired)
		case domain.CheckExhausted:
			event = domain.EventVerificationFailed
			result = failure(ReasonMaxAttempts, msgMaxAttempts)
		default:
			event = domain.EventVerificationAttemptFailed
			result = failure(ReasonInvalidCode, msgInvalidCode)
		}

		if err := tx.UpdateVerification(ctx, v); err != nil {
			return err
		}
		return audit.Emit(ctx, tx, app.ID, event, map[string]any{
			"channel":  channel.String(),
			"attempts": v.Attempts,
		})
	})
	if err != nil {
		return nil, storeError(err, "verify code")
	}
	s.metrics.recordCheck(channel.String(), result.Reason)

	if result.Success {
		s.logger.InfoContext(ctx, "verification successful",
			"request_id", requestID,
			"channel", channel.String(),
		)
		s.fireVerified(ctx, requestID)
	}
	return result, nil
}

// UpdateManualStatus records an external identity-document decision on the
// latest identity row, whatever its current status.
func (s *Service) UpdateManualStatus(ctx context.Context, applicationID int64, status domain.VerificationStatus) (*Result, error) {
	if _, err := domain.ParseVerificationStatus(string(status)); err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, err.Error())
	}

	var (
		result    *Result
		requestID string
	)
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		v, err := tx.FindLatestVerification(ctx, applicationID, domain.ChannelIdentityDocument)
		if errors.Is(err, sentinel.ErrNotFound) {
			result = failure(ReasonNotFound, msgIdentityNotFound)
			return nil
		}
		if err != nil {
			return err
		}

		previous := v.Status
		v.Status = status
		if status == domain.VerificationVerified {
			now := requestcontext.Now(ctx)
			v.VerifiedAt = &now
		}
		if err := tx.UpdateVerification(ctx, v); err != nil {
			return err
		}
		if err := audit.Emit(ctx, tx, applicationID, domain.EventVerificationManualUpdate, map[string]any{
			"channel":         domain.ChannelIdentityDocument.String(),
			"status":          string(status),
			"previous_status": string(previous),
		}); err != nil {
			return err
		}

		if status == domain.VerificationVerified {
			app, err := tx.FindApplicationByID(ctx, applicationID)
			if err != nil {
				return err
			}
			requestID = app.RequestID
		}
		result = &Result{
			Success:    true,
			Reason:     ReasonUpdated,
			Message:    fmt.Sprintf("Identity verification updated to %s", status),
			VerifiedAt: v.VerifiedAt,
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "update identity verification")
	}
	if !result.Success {
		return result, nil
	}

	s.metrics.recordManualUpdate(string(status))
	s.logger.InfoContext(ctx, "identity verification status updated",
		"application_id", applicationID,
		"status", string(status),
	)
	if requestID != "" {
		s.fireVerified(ctx, requestID)
	}
	return result, nil
}

// UpdateManualStatusByRequestID resolves the application and calls UpdateManualStatus.
func (s *Service) UpdateManualStatusByRequestID(ctx context.Context, requestID string, status domain.VerificationStatus) (*Result, error) {
	app, err := s.store.FindApplicationByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
		}
		return nil, storeError(err, "find application")
	}
	return s.UpdateManualStatus(ctx, app.ID, status)
}

// GetStatus returns the status of the newest verification per channel.
func (s *Service) GetStatus(ctx context.Context, applicationID int64) (map[domain.Channel]domain.VerificationStatus, error) {
	rows, err := s.store.ListVerifications(ctx, applicationID)
	if err != nil {
		return nil, storeError(err, "list verifications")
	}
	out := make(map[domain.Channel]domain.VerificationStatus, len(rows))
	for _, v := range rows {
		out[v.Channel] = v.Status
	}
	return out, nil
}

func (s *Service) fireVerified(ctx context.Context, requestID string) {
	if s.onVerified == nil {
		return
	}
	s.onVerified(ctx, requestID)
}

// storeError maps store failures onto domain codes. Domain errors pass through.
func storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeTransient, msg)
	}
}
