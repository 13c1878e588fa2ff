// Package audit writes append-only audit rows and relays them to Kafka.
package audit

import (
	"context"
	"fmt"

	"loanflow/internal/domain"
	"loanflow/internal/store"
	"loanflow/pkg/requestcontext"
)

// Emit appends one audit row through s, which is normally the transaction-bound
// store of the state change being recorded. Client metadata and the timestamp
// come from ctx.
func Emit(ctx context.Context, s store.AuditStore, applicationID int64, eventType string, data map[string]any) error {
	entry := &domain.AuditLog{
		ApplicationID: applicationID,
		EventType:     eventType,
		EventData:     data,
		IPAddress:     requestcontext.ClientIP(ctx),
		UserAgent:     requestcontext.UserAgent(ctx),
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := s.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit %s: %w", eventType, err)
	}
	return nil
}
