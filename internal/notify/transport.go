package notify

import (
	"context"
	"log/slog"

	"loanflow/internal/domain"
	"loanflow/pkg/email"
)

// LogTransport writes deliveries to the log instead of sending them. Targets
// and codes are masked.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

// Deliver logs msg.
func (t *LogTransport) Deliver(ctx context.Context, msg Message) error {
	t.logger.InfoContext(ctx, "verification code delivered",
		"request_id", msg.RequestID,
		"channel", msg.Channel.String(),
		"target", maskTarget(msg.Channel, msg.Target),
		"code", maskCode(msg.Code),
		"expires_at", msg.ExpiresAt,
	)
	return nil
}

func maskTarget(channel domain.Channel, target string) string {
	if channel == domain.ChannelSMS {
		return email.MaskPhone(target)
	}
	return email.Mask(target)
}

func maskCode(code string) string {
	if code == "" {
		return ""
	}
	return "******"
}
