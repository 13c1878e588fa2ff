package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loanflow/pkg/requestcontext"
)

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeHalted
	outcomeRetry
	outcomeExhausted
)

func (o outcome) String() string {
	switch o {
	case outcomeSucceeded:
		return "succeeded"
	case outcomeHalted:
		return "halted"
	case outcomeRetry:
		return "retry"
	default:
		return "exhausted"
	}
}

type attemptResult struct {
	outcome outcome
	output  json.RawMessage
	delay   time.Duration
	err     error
}

// executor applies the retry policy both dispatchers share.
type executor struct {
	logger  *slog.Logger
	metrics *Metrics
}

// attempt runs one try of def. attempt counts prior failures, starting at 0.
func (e *executor) attempt(ctx context.Context, def Definition, taskID string, args json.RawMessage, attempt int) attemptResult {
	ctx = requestcontext.WithTaskID(ctx, taskID)
	start := time.Now()
	output, err := safeCall(ctx, def.Handler, args)
	e.metrics.observeDuration(def.Name, time.Since(start))

	var r attemptResult
	switch {
	case err == nil:
		r = attemptResult{outcome: outcomeSucceeded, output: output}
	case errors.Is(err, ErrHaltChain):
		r = attemptResult{outcome: outcomeHalted, output: output}
	case IsPermanent(err) || attempt >= def.MaxRetries:
		r = attemptResult{outcome: outcomeExhausted, err: err}
	default:
		delay := def.RetryDelay
		var re *RetryError
		if errors.As(err, &re) {
			delay = re.Delay
		}
		r = attemptResult{outcome: outcomeRetry, delay: delay, err: err}
	}
	e.metrics.recordOutcome(def.Name, r.outcome)

	switch r.outcome {
	case outcomeRetry:
		e.logger.WarnContext(ctx, "task failed, retrying",
			"task", string(def.Name),
			"task_id", taskID,
			"attempt", attempt+1,
			"max_retries", def.MaxRetries,
			"retry_in", r.delay,
			"error", err,
		)
	case outcomeExhausted:
		e.logger.ErrorContext(ctx, "task failed permanently",
			"task", string(def.Name),
			"task_id", taskID,
			"attempts", attempt+1,
			"error", err,
		)
		e.exhaust(ctx, def, args, err)
	case outcomeHalted:
		e.logger.DebugContext(ctx, "task halted chain", "task", string(def.Name), "task_id", taskID)
	}
	return r
}

func (e *executor) exhaust(ctx context.Context, def Definition, args json.RawMessage, cause error) {
	if def.OnExhausted == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			e.logger.ErrorContext(ctx, "task exhaustion hook panicked",
				"task", string(def.Name),
				"panic", fmt.Sprint(p),
			)
		}
	}()
	def.OnExhausted(ctx, args, cause)
}

// safeCall turns a handler panic into a retryable error.
func safeCall(ctx context.Context, h Handler, args json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return h(ctx, args)
}
