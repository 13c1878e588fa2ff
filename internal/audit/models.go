package audit

import (
	"time"

	"loanflow/internal/domain"
)

// Record is the JSON shape of an audit row on the Kafka topic. Consumers
// deduplicate on ID because the relay delivers at least once.
type Record struct {
	ID            int64          `json:"id"`
	ApplicationID int64          `json:"application_id"`
	EventType     string         `json:"event_type"`
	EventData     map[string]any `json:"event_data,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewRecord converts a stored audit row.
func NewRecord(l *domain.AuditLog) Record {
	return Record{
		ID:            l.ID,
		ApplicationID: l.ApplicationID,
		EventType:     l.EventType,
		EventData:     l.EventData,
		IPAddress:     l.IPAddress,
		UserAgent:     l.UserAgent,
		CreatedAt:     l.CreatedAt.UTC(),
	}
}
