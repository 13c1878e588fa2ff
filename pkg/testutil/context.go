package testutil

import (
	"context"
	"io"
	"log/slog"
	"time"

	"loanflow/pkg/requestcontext"
)

// FixedNow is the reference instant used by service tests.
var FixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ContextAt returns a background context pinned to t.
// This simulates what intake or a worker does for a request or task.
func ContextAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}
