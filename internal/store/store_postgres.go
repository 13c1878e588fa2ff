package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"loanflow/internal/domain"
	dErrors "loanflow/pkg/domain-errors"
	"loanflow/pkg/platform/sentinel"
)

const defaultTxTimeout = 5 * time.Second

// PostgresStore persists records in PostgreSQL. A store built by NewPostgres
// runs each call on the pool; the store handed to RunInTx callbacks runs
// everything on one *sql.Tx.
type PostgresStore struct {
	db        *sql.DB
	tx        *sql.Tx
	txTimeout time.Duration
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, txTimeout: defaultTxTimeout}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// RunInTx begins a transaction, hands fn a transaction-bound store and
// commits when fn returns nil. The deferred rollback releases the connection
// on every other path.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.txTimeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&PostgresStore{db: s.db, tx: tx, txTimeout: s.txTimeout}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// -----------------------------------------------------------------------------
// Applications
// -----------------------------------------------------------------------------

const applicationColumns = `
	id, request_id, email, phone, full_name, date_of_birth, citizenship, housing_type,
	address, education_level, employment_status, monthly_income, income_sources,
	marital_status, children_count, requested_amount, loan_purpose,
	identity_document_front, identity_document_back, status, risk_score,
	decision_reason, submitted_at, updated_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*domain.Application, error) {
	var (
		app            domain.Application
		status         string
		riskScore      sql.NullFloat64
		decisionReason sql.NullString
		updatedAt      sql.NullTime
		monthlyIncome  decimal.Decimal
		requested      decimal.Decimal
	)
	err := row.Scan(
		&app.ID, &app.RequestID, &app.Email, &app.Phone, &app.FullName, &app.DateOfBirth,
		&app.Citizenship, &app.HousingType, &app.Address, &app.EducationLevel,
		&app.EmploymentStatus, &monthlyIncome, pq.Array(&app.IncomeSources),
		&app.MaritalStatus, &app.ChildrenCount, &requested, &app.LoanPurpose,
		&app.IdentityDocumentFront, &app.IdentityDocumentBack, &status, &riskScore,
		&decisionReason, &app.SubmittedAt, &updatedAt, &app.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	app.MonthlyIncome = monthlyIncome
	app.RequestedAmount = requested
	app.Status = domain.ApplicationStatus(status)
	if riskScore.Valid {
		app.RiskScore = &riskScore.Float64
	}
	if decisionReason.Valid {
		app.DecisionReason = &decisionReason.String
	}
	if updatedAt.Valid {
		app.UpdatedAt = &updatedAt.Time
	}
	return &app, nil
}

func (s *PostgresStore) CreateApplication(ctx context.Context, app *domain.Application) error {
	query := `
		INSERT INTO loan_applications (
			request_id, email, phone, full_name, date_of_birth, citizenship, housing_type,
			address, education_level, employment_status, monthly_income, income_sources,
			marital_status, children_count, requested_amount, loan_purpose,
			identity_document_front, identity_document_back, status, risk_score,
			decision_reason, submitted_at, updated_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING id
	`
	err := s.execer().QueryRowContext(ctx, query,
		app.RequestID, app.Email, app.Phone, app.FullName, app.DateOfBirth, app.Citizenship,
		app.HousingType, app.Address, app.EducationLevel, app.EmploymentStatus,
		app.MonthlyIncome, pq.Array(app.IncomeSources), app.MaritalStatus, app.ChildrenCount,
		app.RequestedAmount, app.LoanPurpose, app.IdentityDocumentFront, app.IdentityDocumentBack,
		string(app.Status), app.RiskScore, app.DecisionReason, app.SubmittedAt, app.UpdatedAt,
		app.ExpiresAt,
	).Scan(&app.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("application %s: %w", app.RequestID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (s *PostgresStore) findApplication(ctx context.Context, where string, arg any) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM loan_applications WHERE ` + where
	if s.tx != nil {
		query += ` FOR UPDATE`
	}
	app, err := scanApplication(s.execer().QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find application: %w", err)
	}
	return app, nil
}

func (s *PostgresStore) FindApplicationByID(ctx context.Context, id int64) (*domain.Application, error) {
	return s.findApplication(ctx, `id = $1`, id)
}

func (s *PostgresStore) FindApplicationByRequestID(ctx context.Context, requestID string) (*domain.Application, error) {
	return s.findApplication(ctx, `request_id = $1`, requestID)
}

func (s *PostgresStore) UpdateApplication(ctx context.Context, app *domain.Application) error {
	query := `
		UPDATE loan_applications SET
			email = $2, phone = $3, full_name = $4, citizenship = $5, address = $6,
			status = $7, risk_score = $8, decision_reason = $9, updated_at = $10
		WHERE id = $1
	`
	res, err := s.execer().ExecContext(ctx, query,
		app.ID, app.Email, app.Phone, app.FullName, app.Citizenship, app.Address,
		string(app.Status), app.RiskScore, app.DecisionReason, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Verifications
// -----------------------------------------------------------------------------

const verificationColumns = `
	id, application_id, category, channel, code, status, attempts, max_attempts,
	expires_at, verified_at, created_at`

func scanVerification(row rowScanner) (*domain.Verification, error) {
	var (
		v          domain.Verification
		category   string
		channel    string
		code       sql.NullString
		status     string
		verifiedAt sql.NullTime
	)
	err := row.Scan(&v.ID, &v.ApplicationID, &category, &channel, &code, &status,
		&v.Attempts, &v.MaxAttempts, &v.ExpiresAt, &verifiedAt, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if v.Category, err = domain.ParseCategory(category); err != nil {
		return nil, err
	}
	if v.Channel, err = domain.ParseChannel(channel); err != nil {
		return nil, err
	}
	v.Status = domain.VerificationStatus(status)
	if code.Valid {
		v.Code = &code.String
	}
	if verifiedAt.Valid {
		v.VerifiedAt = &verifiedAt.Time
	}
	return &v, nil
}

func (s *PostgresStore) CreateVerification(ctx context.Context, v *domain.Verification) error {
	query := `
		INSERT INTO verifications (
			application_id, category, channel, code, status, attempts, max_attempts,
			expires_at, verified_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := s.execer().QueryRowContext(ctx, query,
		v.ApplicationID, v.Category.String(), v.Channel.String(), v.Code, string(v.Status),
		v.Attempts, v.MaxAttempts, v.ExpiresAt, v.VerifiedAt, v.CreatedAt,
	).Scan(&v.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pending %s verification already exists: %w", v.Channel, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateVerification(ctx context.Context, v *domain.Verification) error {
	query := `
		UPDATE verifications SET status = $2, attempts = $3, verified_at = $4
		WHERE id = $1
	`
	res, err := s.execer().ExecContext(ctx, query, v.ID, string(v.Status), v.Attempts, v.VerifiedAt)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) queryVerifications(ctx context.Context, query string, args ...any) ([]*domain.Verification, error) {
	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindOpenVerifications(ctx context.Context, applicationID int64, channel domain.Channel) ([]*domain.Verification, error) {
	query := `SELECT ` + verificationColumns + ` FROM verifications
		WHERE application_id = $1 AND channel = $2 AND status IN ('pending', 'expired')
		ORDER BY created_at, id`
	if s.tx != nil {
		query += ` FOR UPDATE`
	}
	return s.queryVerifications(ctx, query, applicationID, channel.String())
}

func (s *PostgresStore) findOneVerification(ctx context.Context, query string, args ...any) (*domain.Verification, error) {
	if s.tx != nil {
		query += ` FOR UPDATE`
	}
	v, err := scanVerification(s.execer().QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) FindPendingVerification(ctx context.Context, applicationID int64, channel domain.Channel) (*domain.Verification, error) {
	return s.findOneVerification(ctx, `SELECT `+verificationColumns+` FROM verifications
		WHERE application_id = $1 AND channel = $2 AND status = 'pending'
		ORDER BY created_at DESC, id DESC LIMIT 1`, applicationID, channel.String())
}

func (s *PostgresStore) FindLatestVerification(ctx context.Context, applicationID int64, channel domain.Channel) (*domain.Verification, error) {
	return s.findOneVerification(ctx, `SELECT `+verificationColumns+` FROM verifications
		WHERE application_id = $1 AND channel = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`, applicationID, channel.String())
}

func (s *PostgresStore) ListVerifications(ctx context.Context, applicationID int64) ([]*domain.Verification, error) {
	return s.queryVerifications(ctx, `SELECT `+verificationColumns+` FROM verifications
		WHERE application_id = $1 ORDER BY created_at, id`, applicationID)
}

// -----------------------------------------------------------------------------
// Audit
// -----------------------------------------------------------------------------

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *domain.AuditLog) error {
	var data []byte
	if entry.EventData != nil {
		var err error
		if data, err = json.Marshal(entry.EventData); err != nil {
			return fmt.Errorf("marshal audit event data: %w", err)
		}
	}
	query := `
		INSERT INTO audit_logs (application_id, event_type, event_data, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.execer().QueryRowContext(ctx, query,
		entry.ApplicationID, entry.EventType, data, entry.IPAddress, entry.UserAgent, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryAudit(ctx context.Context, query string, args ...any) ([]*domain.AuditLog, error) {
	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			entry       domain.AuditLog
			data        []byte
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&entry.ID, &entry.ApplicationID, &entry.EventType, &data,
			&entry.IPAddress, &entry.UserAgent, &entry.CreatedAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &entry.EventData); err != nil {
				return nil, fmt.Errorf("unmarshal audit event data: %w", err)
			}
		}
		if publishedAt.Valid {
			entry.PublishedAt = &publishedAt.Time
		}
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return out, nil
}

const auditColumns = `id, application_id, event_type, event_data, ip_address, user_agent, created_at, published_at`

func (s *PostgresStore) ListAudit(ctx context.Context, applicationID int64) ([]*domain.AuditLog, error) {
	return s.queryAudit(ctx, `SELECT `+auditColumns+` FROM audit_logs
		WHERE application_id = $1 ORDER BY id`, applicationID)
}

func (s *PostgresStore) FetchUnpublishedAudit(ctx context.Context, limit int) ([]*domain.AuditLog, error) {
	return s.queryAudit(ctx, `SELECT `+auditColumns+` FROM audit_logs
		WHERE published_at IS NULL ORDER BY id LIMIT $1`, limit)
}

func (s *PostgresStore) MarkAuditPublished(ctx context.Context, id int64, at time.Time) error {
	res, err := s.execer().ExecContext(ctx,
		`UPDATE audit_logs SET published_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark audit published: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) CountUnpublishedAudit(ctx context.Context) (int64, error) {
	var n int64
	err := s.execer().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unpublished audit: %w", err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

func (s *PostgresStore) FindEnumType(ctx context.Context, name string) (*domain.EnumType, error) {
	query := `
		SELECT id, name, description, is_multi_select, max_selections, is_active, created_at, updated_at
		FROM enum_types
		WHERE name = $1 AND is_active = TRUE
	`
	var (
		t             domain.EnumType
		maxSelections sql.NullInt64
		updatedAt     sql.NullTime
	)
	err := s.execer().QueryRowContext(ctx, query, name).Scan(
		&t.ID, &t.Name, &t.Description, &t.IsMultiSelect, &maxSelections, &t.IsActive,
		&t.CreatedAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find enum type: %w", err)
	}
	if maxSelections.Valid {
		n := int(maxSelections.Int64)
		t.MaxSelections = &n
	}
	if updatedAt.Valid {
		t.UpdatedAt = &updatedAt.Time
	}
	return &t, nil
}

func (s *PostgresStore) ListActiveEnumValues(ctx context.Context, enumTypeID int64) ([]*domain.EnumValue, error) {
	query := `
		SELECT id, enum_type_id, value, label, display_order, is_active, meta_info, created_at, updated_at
		FROM enum_values
		WHERE enum_type_id = $1 AND is_active = TRUE
		ORDER BY display_order, id
	`
	rows, err := s.execer().QueryContext(ctx, query, enumTypeID)
	if err != nil {
		return nil, fmt.Errorf("query enum values: %w", err)
	}
	defer rows.Close()

	var out []*domain.EnumValue
	for rows.Next() {
		var (
			v         domain.EnumValue
			meta      []byte
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.EnumTypeID, &v.Value, &v.Label, &v.DisplayOrder,
			&v.IsActive, &meta, &v.CreatedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan enum value: %w", err)
		}
		if len(meta) > 0 {
			v.Metadata = json.RawMessage(meta)
		}
		if updatedAt.Valid {
			v.UpdatedAt = &updatedAt.Time
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enum values: %w", err)
	}
	return out, nil
}
