package workflow

import "loanflow/internal/domain"

// Reasons recorded with pipeline decisions.
const (
	ReasonAutoApproved     = "Auto-approved based on risk score"
	ReasonAutoRejected     = "Auto-rejected based on risk score"
	ReasonManualReview     = "Requires manual review"
	ReasonDataVerification = "Data verification required"
)

// Thresholds split risk scores into decisions. Scores above Approve are
// approved, scores below Reject are rejected, the rest go to manual review.
type Thresholds struct {
	Approve float64
	Reject  float64
}

// DefaultThresholds is the reference decision policy.
var DefaultThresholds = Thresholds{Approve: 0.7, Reject: 0.3}

// Decision is the terminal status chosen for a score and why.
type Decision struct {
	Status domain.ApplicationStatus
	Reason string
}

// Decide maps a risk score onto a terminal status. Both bounds are exclusive.
func Decide(score float64, t Thresholds) Decision {
	switch {
	case score > t.Approve:
		return Decision{Status: domain.StatusApproved, Reason: ReasonAutoApproved}
	case score < t.Reject:
		return Decision{Status: domain.StatusRejected, Reason: ReasonAutoRejected}
	default:
		return Decision{Status: domain.StatusManualReview, Reason: ReasonManualReview}
	}
}
