package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Eager runs tasks in the calling goroutine. Retries sleep in place.
type Eager struct {
	registry *Registry
	exec     *executor
	sleep    func(ctx context.Context, d time.Duration) error
}

// EagerOption configures Eager.
type EagerOption func(*Eager)

// WithEagerLogger sets the logger.
func WithEagerLogger(logger *slog.Logger) EagerOption {
	return func(e *Eager) {
		e.exec.logger = logger
	}
}

// WithEagerMetrics enables task metrics.
func WithEagerMetrics(m *Metrics) EagerOption {
	return func(e *Eager) {
		e.exec.metrics = m
	}
}

// WithSleep replaces the retry wait, typically with a recorder in tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) EagerOption {
	return func(e *Eager) {
		e.sleep = sleep
	}
}

// NewEager creates an in-process dispatcher over registry.
func NewEager(registry *Registry, opts ...EagerOption) *Eager {
	if registry == nil {
		panic("tasks.NewEager: registry is required")
	}
	e := &Eager{
		registry: registry,
		exec:     &executor{logger: slog.Default()},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue runs the task, including retries, before returning.
func (e *Eager) Enqueue(ctx context.Context, name Name, args any) (Handle, error) {
	return e.Chain(ctx, Step{Name: name, Args: args})
}

// Chain runs each step to completion before starting the next. A halted or
// exhausted step ends the chain; that is not a dispatch error.
func (e *Eager) Chain(ctx context.Context, steps ...Step) (Handle, error) {
	defs, err := e.registry.resolve(steps)
	if err != nil {
		return Handle{}, err
	}
	args, err := marshalArgs(steps[0].Args)
	if err != nil {
		return Handle{}, err
	}

	handle := Handle{ID: uuid.NewString()}
	for _, def := range defs {
		out, proceed, err := e.runToCompletion(ctx, def, handle.ID, args)
		if err != nil {
			return handle, err
		}
		if !proceed {
			break
		}
		args = out
	}
	return handle, nil
}

func (e *Eager) runToCompletion(ctx context.Context, def Definition, id string, args json.RawMessage) (json.RawMessage, bool, error) {
	for attempt := 0; ; attempt++ {
		r := e.exec.attempt(ctx, def, id, args, attempt)
		switch r.outcome {
		case outcomeSucceeded:
			return r.output, true, nil
		case outcomeRetry:
			if err := e.sleep(ctx, r.delay); err != nil {
				return nil, false, fmt.Errorf("task %s interrupted: %w", def.Name, err)
			}
		default:
			return nil, false, nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Dispatcher = (*Eager)(nil)
