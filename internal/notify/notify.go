// Package notify delivers verification codes to applicants. Sends are queued
// as background tasks so a slow transport never holds up verification.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"loanflow/internal/domain"
	"loanflow/internal/tasks"
)

// TaskSendVerificationCode delivers one code through the configured Transport.
const TaskSendVerificationCode tasks.Name = "notifications.send_verification_code"

const (
	sendMaxRetries = 3
	sendRetryDelay = 10 * time.Second
)

// Message is the queued payload and what a Transport receives.
type Message struct {
	Channel   domain.Channel `json:"channel"`
	Target    string         `json:"target"`
	RequestID string         `json:"request_id"`
	Code      string         `json:"code"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Transport performs the actual delivery over email or SMS.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// TaskNotifier implements verification.Notifier by enqueueing a send task.
type TaskNotifier struct {
	dispatcher tasks.Dispatcher
}

// NewTaskNotifier creates a notifier that dispatches through d.
func NewTaskNotifier(d tasks.Dispatcher) *TaskNotifier {
	if d == nil {
		panic("notify.NewTaskNotifier: dispatcher is required")
	}
	return &TaskNotifier{dispatcher: d}
}

// Send queues delivery of n to target over channel.
func (n *TaskNotifier) Send(ctx context.Context, channel domain.Channel, target string, note domain.Notification) error {
	if !channel.UsesCode() {
		return fmt.Errorf("channel %s does not deliver codes", channel)
	}
	msg := Message{
		Channel:   channel,
		Target:    target,
		RequestID: note.RequestID,
		Code:      note.Code,
		ExpiresAt: note.ExpiresAt,
	}
	if _, err := n.dispatcher.Enqueue(ctx, TaskSendVerificationCode, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskSendVerificationCode, err)
	}
	return nil
}

// Register installs the send task. Transport failures are retried; payloads
// that cannot be decoded are dropped.
func Register(reg *tasks.Registry, transport Transport, logger *slog.Logger) {
	if transport == nil {
		panic("notify.Register: transport is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	reg.Register(tasks.Definition{
		Name:       TaskSendVerificationCode,
		Queue:      tasks.QueueNotifications,
		MaxRetries: sendMaxRetries,
		RetryDelay: sendRetryDelay,
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var msg Message
			if err := json.Unmarshal(args, &msg); err != nil {
				return nil, tasks.Permanent(fmt.Errorf("decode notification: %w", err))
			}
			if err := transport.Deliver(ctx, msg); err != nil {
				return nil, err
			}
			return nil, nil
		},
		OnExhausted: func(ctx context.Context, args json.RawMessage, err error) {
			var msg Message
			_ = json.Unmarshal(args, &msg)
			logger.ErrorContext(ctx, "verification code delivery abandoned",
				"request_id", msg.RequestID,
				"channel", msg.Channel.String(),
				"error", err,
			)
		},
	})
}
