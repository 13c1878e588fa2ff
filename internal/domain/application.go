package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"loanflow/pkg/platform/sentinel"
)

// ApplicationStatus is the processing stage of a loan application.
type ApplicationStatus string

const (
	StatusSubmitted            ApplicationStatus = "submitted"
	StatusAwaitingVerification ApplicationStatus = "awaiting_verification"
	StatusVerified             ApplicationStatus = "verified"
	StatusPreprocessing        ApplicationStatus = "preprocessing"
	StatusDataEnrichment       ApplicationStatus = "data_enrichment"
	StatusScoring              ApplicationStatus = "scoring"
	StatusApproved             ApplicationStatus = "approved"
	StatusRejected             ApplicationStatus = "rejected"
	StatusManualReview         ApplicationStatus = "manual_review"
	StatusError                ApplicationStatus = "error"
)

// statusGraph lists the forward edges of the pipeline. Error is reachable from
// every non-terminal status and is handled separately in CanTransitionTo.
var statusGraph = map[ApplicationStatus][]ApplicationStatus{
	StatusSubmitted:            {StatusAwaitingVerification, StatusVerified},
	StatusAwaitingVerification: {StatusVerified},
	StatusVerified:             {StatusPreprocessing},
	StatusPreprocessing:        {StatusDataEnrichment},
	StatusDataEnrichment:       {StatusScoring, StatusManualReview},
	StatusScoring:              {StatusApproved, StatusRejected, StatusManualReview},
}

// ParseApplicationStatus validates a persisted or user supplied status string.
func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	status := ApplicationStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown application status %q", s)
	}
	return status, nil
}

// IsValid reports whether s is one of the known statuses.
func (s ApplicationStatus) IsValid() bool {
	switch s {
	case StatusSubmitted, StatusAwaitingVerification, StatusVerified, StatusPreprocessing,
		StatusDataEnrichment, StatusScoring, StatusApproved, StatusRejected,
		StatusManualReview, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether the pipeline has finished for this status.
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusManualReview, StatusError:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ApplicationStatus) CanTransitionTo(next ApplicationStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusError {
		return true
	}
	for _, candidate := range statusGraph[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Rank orders the non-error statuses along the pipeline. Stage handlers use it
// to tell a redelivered task (status already past the stage) from one that
// arrived too early.
func (s ApplicationStatus) Rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusAwaitingVerification:
		return 1
	case StatusVerified:
		return 2
	case StatusPreprocessing:
		return 3
	case StatusDataEnrichment:
		return 4
	case StatusScoring:
		return 5
	default:
		return 6
	}
}

// AuditEventType returns the STATUS_CHANGED_<STATE> tag recorded for a move into s.
func (s ApplicationStatus) AuditEventType() string {
	return "STATUS_CHANGED_" + strings.ToUpper(string(s))
}

// Application is one loan request and its processing state.
type Application struct {
	ID        int64
	RequestID string

	Email            string
	Phone            string
	FullName         string
	DateOfBirth      time.Time
	Citizenship      string
	HousingType      string
	Address          string
	EducationLevel   string
	EmploymentStatus string
	MonthlyIncome    decimal.Decimal
	IncomeSources    []string
	MaritalStatus    string
	ChildrenCount    int
	RequestedAmount  decimal.Decimal
	LoanPurpose      string

	IdentityDocumentFront string
	IdentityDocumentBack  string

	Status         ApplicationStatus
	RiskScore      *float64
	DecisionReason *string
	SubmittedAt    time.Time
	UpdatedAt      *time.Time
	ExpiresAt      time.Time
}

// TransitionTo moves the application to next, stamping UpdatedAt. Moving to the
// current status is a no-op and reports changed=false.
func (a *Application) TransitionTo(next ApplicationStatus, reason string, now time.Time) (changed bool, err error) {
	if a.Status == next {
		return false, nil
	}
	if !a.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("transition %s -> %s: %w", a.Status, next, sentinel.ErrInvalidState)
	}
	a.Status = next
	if reason != "" {
		r := reason
		a.DecisionReason = &r
	}
	a.UpdatedAt = &now
	return true, nil
}

// LastUpdated returns UpdatedAt, falling back to SubmittedAt for untouched rows.
func (a *Application) LastUpdated() time.Time {
	if a.UpdatedAt != nil {
		return *a.UpdatedAt
	}
	return a.SubmittedAt
}

// AgeAt returns the applicant's age in whole years at t.
func (a *Application) AgeAt(t time.Time) int {
	if a.DateOfBirth.IsZero() {
		return 0
	}
	years := t.Year() - a.DateOfBirth.Year()
	if t.Month() < a.DateOfBirth.Month() ||
		(t.Month() == a.DateOfBirth.Month() && t.Day() < a.DateOfBirth.Day()) {
		years--
	}
	return years
}

// Clone returns a deep copy so stores never hand out shared state.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	c := *a
	c.IncomeSources = append([]string(nil), a.IncomeSources...)
	if a.RiskScore != nil {
		v := *a.RiskScore
		c.RiskScore = &v
	}
	if a.DecisionReason != nil {
		v := *a.DecisionReason
		c.DecisionReason = &v
	}
	if a.UpdatedAt != nil {
		v := *a.UpdatedAt
		c.UpdatedAt = &v
	}
	return &c
}
