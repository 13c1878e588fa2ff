package verification

import (
	"time"

	"loanflow/internal/domain"
)

// Reason is the machine-readable outcome of a verification operation.
type Reason string

const (
	ReasonVerified            Reason = "verified"
	ReasonInvalidCode         Reason = "invalid_code"
	ReasonExpired             Reason = "expired"
	ReasonMaxAttempts         Reason = "max_attempts_exceeded"
	ReasonNotFound            Reason = "verification_not_found"
	ReasonApplicationNotFound Reason = "application_not_found"
	ReasonUpdated             Reason = "updated"
)

// Result reports an expected verification outcome. Failures a caller can act
// on are Results, not errors.
type Result struct {
	Success    bool
	Reason     Reason
	Message    string
	VerifiedAt *time.Time
}

// InitiateResult describes a freshly issued verification.
type InitiateResult struct {
	Channel   domain.Channel
	Status    domain.VerificationStatus
	ExpiresAt time.Time
	Message   string
}

const (
	msgApplicationNotFound  = "Application not found"
	msgVerificationNotFound = "Verification not found or already completed"
	msgExpired              = "Verification code expired"
	msgMaxAttempts          = "Maximum attempts exceeded"
	msgVerified             = "Verification successful"
	msgInvalidCode          = "Invalid verification code"
	msgIdentityNotFound     = "Identity verification not found"
	msgIdentityInitiated    = "Manual identity verification initiated. Awaiting admin review."
	msgCodeSent             = "Verification code sent"
)

func failure(reason Reason, message string) *Result {
	return &Result{Success: false, Reason: reason, Message: message}
}
