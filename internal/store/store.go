// Package store is the record store adapter for applications, verifications,
// audit rows and enum definitions. Services depend on the Store interface; the
// in-memory implementation backs development mode and unit tests, the
// PostgreSQL implementation backs production.
package store

import (
	"context"
	"time"

	"loanflow/internal/domain"
)

// ApplicationStore persists loan applications.
type ApplicationStore interface {
	// CreateApplication inserts app and assigns app.ID. A duplicate request ID
	// returns sentinel.ErrConflict.
	CreateApplication(ctx context.Context, app *domain.Application) error
	FindApplicationByID(ctx context.Context, id int64) (*domain.Application, error)
	FindApplicationByRequestID(ctx context.Context, requestID string) (*domain.Application, error)
	UpdateApplication(ctx context.Context, app *domain.Application) error
}

// VerificationStore persists verification records.
type VerificationStore interface {
	CreateVerification(ctx context.Context, v *domain.Verification) error
	UpdateVerification(ctx context.Context, v *domain.Verification) error
	// FindOpenVerifications returns the pending and expired rows for the
	// channel, oldest first.
	FindOpenVerifications(ctx context.Context, applicationID int64, channel domain.Channel) ([]*domain.Verification, error)
	// FindPendingVerification returns the newest pending row for the channel.
	// Inside a PostgreSQL transaction the row is locked for update.
	FindPendingVerification(ctx context.Context, applicationID int64, channel domain.Channel) (*domain.Verification, error)
	// FindLatestVerification returns the newest row for the channel in any status.
	FindLatestVerification(ctx context.Context, applicationID int64, channel domain.Channel) (*domain.Verification, error)
	// ListVerifications returns every row for the application, oldest first.
	ListVerifications(ctx context.Context, applicationID int64) ([]*domain.Verification, error)
}

// AuditStore appends audit rows and serves the relay that exports them.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *domain.AuditLog) error
	ListAudit(ctx context.Context, applicationID int64) ([]*domain.AuditLog, error)
	FetchUnpublishedAudit(ctx context.Context, limit int) ([]*domain.AuditLog, error)
	MarkAuditPublished(ctx context.Context, id int64, at time.Time) error
	CountUnpublishedAudit(ctx context.Context) (int64, error)
}

// EnumStore reads enum definitions. The core never writes them.
type EnumStore interface {
	// FindEnumType returns sentinel.ErrNotFound when the type is missing or inactive.
	FindEnumType(ctx context.Context, name string) (*domain.EnumType, error)
	// ListActiveEnumValues returns active values ordered by display_order.
	ListActiveEnumValues(ctx context.Context, enumTypeID int64) ([]*domain.EnumValue, error)
}

// Store is the full record store. RunInTx executes fn against a
// transaction-scoped Store; fn's error rolls every write back.
type Store interface {
	ApplicationStore
	VerificationStore
	AuditStore
	EnumStore

	RunInTx(ctx context.Context, fn func(tx Store) error) error
}
