package domain

import "time"

// Audit event types written outside the status machine.
const (
	EventApplicationSubmitted      = "APPLICATION_SUBMITTED"
	EventVerificationInitiated     = "VERIFICATION_INITIATED"
	EventVerificationSuperseded    = "VERIFICATION_SUPERSEDED"
	EventVerificationVerified      = "VERIFICATION_VERIFIED"
	EventVerificationExpired       = "VERIFICATION_EXPIRED"
	EventVerificationFailed        = "VERIFICATION_FAILED"
	EventVerificationAttemptFailed = "VERIFICATION_ATTEMPT_FAILED"
	EventVerificationManualUpdate  = "VERIFICATION_MANUAL_UPDATE"
)

// AuditLog is an append-only record of one observable state change.
// PublishedAt is the only field written after insert, by the audit relay.
type AuditLog struct {
	ID            int64
	ApplicationID int64
	EventType     string
	EventData     map[string]any
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// Clone returns a copy with its own EventData map.
func (l *AuditLog) Clone() *AuditLog {
	if l == nil {
		return nil
	}
	c := *l
	if l.EventData != nil {
		c.EventData = make(map[string]any, len(l.EventData))
		for k, v := range l.EventData {
			c.EventData[k] = v
		}
	}
	if l.PublishedAt != nil {
		at := *l.PublishedAt
		c.PublishedAt = &at
	}
	return &c
}
