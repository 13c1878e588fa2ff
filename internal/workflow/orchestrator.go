package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"loanflow/internal/audit"
	"loanflow/internal/domain"
	"loanflow/internal/platform/tracer"
	"loanflow/internal/store"
	"loanflow/internal/tasks"
	dErrors "loanflow/pkg/domain-errors"
	"loanflow/pkg/platform/sentinel"
	"loanflow/pkg/requestcontext"
)

const (
	reasonAwaitingVerification = "Awaiting contact verification"
	reasonVerified             = "Required verifications complete"
	reasonPreprocessing        = "Preprocessing started"
	reasonPreprocessed         = "Applicant data normalized"
	reasonEnriched             = "External data verified"
)

// Execute decides the next step for requestID from its persisted status. It is
// safe to call repeatedly: finished stages are never dispatched again.
func (o *Orchestrator) Execute(ctx context.Context, requestID string) (err error) {
	ctx, span := o.tracer.Start(ctx, "workflow.execute", tracer.String("request_id", requestID))
	defer func() { span.End(err) }()

	app, err := o.store.FindApplicationByRequestID(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		o.logger.WarnContext(ctx, "workflow requested for unknown application", "request_id", requestID)
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransient, "load application")
	}
	if app.Status.IsTerminal() {
		o.logger.InfoContext(ctx, "application already finished",
			"request_id", requestID,
			"status", string(app.Status),
		)
		return nil
	}
	span.SetAttributes(tracer.String("status", string(app.Status)))

	switch app.Status {
	case domain.StatusSubmitted, domain.StatusAwaitingVerification:
		met, err := o.gateMet(ctx, app.ID)
		if err != nil {
			return err
		}
		if !met {
			return o.awaitVerification(ctx, app)
		}
		ok, err := o.transition(ctx, requestID, change{
			from:   app.Status,
			to:     domain.StatusVerified,
			reason: reasonVerified,
		})
		if err != nil || !ok {
			return err
		}
		return o.startPipeline(ctx, requestID)
	case domain.StatusVerified:
		return o.startPipeline(ctx, requestID)
	case domain.StatusPreprocessing:
		return o.dispatch(ctx, requestID, TaskPreprocess, TaskEnrich, TaskScore)
	case domain.StatusDataEnrichment:
		return o.dispatch(ctx, requestID, TaskEnrich, TaskScore)
	case domain.StatusScoring:
		return o.dispatch(ctx, requestID, TaskScore)
	}
	return nil
}

// Fail moves requestID to error with cause as the reason. Finished applications
// are left alone.
func (o *Orchestrator) Fail(ctx context.Context, requestID string, cause error) error {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}

	var failed bool
	err := o.store.RunInTx(ctx, func(tx store.Store) error {
		app, err := tx.FindApplicationByRequestID(ctx, requestID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if app.Status.IsTerminal() {
			return nil
		}
		from := app.Status
		if _, err := app.TransitionTo(domain.StatusError, reason, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return err
		}
		failed = true
		return audit.Emit(ctx, tx, app.ID, domain.StatusError.AuditEventType(), map[string]any{
			"reason":          reason,
			"previous_status": string(from),
		})
	})
	if err != nil {
		return storeError(err, "record workflow error")
	}
	if failed {
		o.metrics.recordDecision(domain.StatusError)
		o.logger.ErrorContext(ctx, "workflow failed",
			"request_id", requestID,
			"reason", reason,
		)
	}
	return nil
}

func (o *Orchestrator) gateMet(ctx context.Context, applicationID int64) (bool, error) {
	statuses, err := o.verifications.GetStatus(ctx, applicationID)
	if err != nil {
		return false, fmt.Errorf("read verification status: %w", err)
	}
	for _, ch := range o.required {
		if statuses[ch] != domain.VerificationVerified {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) awaitVerification(ctx context.Context, app *domain.Application) error {
	if app.Status == domain.StatusSubmitted {
		if _, err := o.transition(ctx, app.RequestID, change{
			from:   domain.StatusSubmitted,
			to:     domain.StatusAwaitingVerification,
			reason: reasonAwaitingVerification,
		}); err != nil {
			return err
		}
	}
	o.logger.InfoContext(ctx, "waiting for verification", "request_id", app.RequestID)
	return nil
}

func (o *Orchestrator) startPipeline(ctx context.Context, requestID string) error {
	ok, err := o.transition(ctx, requestID, change{
		from:   domain.StatusVerified,
		to:     domain.StatusPreprocessing,
		reason: reasonPreprocessing,
	})
	if err != nil || !ok {
		return err
	}
	return o.dispatch(ctx, requestID, TaskPreprocess, TaskEnrich, TaskScore)
}

func (o *Orchestrator) dispatch(ctx context.Context, requestID string, names ...tasks.Name) error {
	steps := make([]tasks.Step, len(names))
	for i, name := range names {
		steps[i] = tasks.Step{Name: name}
	}
	steps[0].Args = StageInput{RequestID: requestID}

	handle, err := o.dispatcher.Chain(ctx, steps...)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", names[0], err)
	}
	o.logger.InfoContext(ctx, "pipeline dispatched",
		"request_id", requestID,
		"first_stage", string(names[0]),
		"chain_id", handle.ID,
	)
	return nil
}

// change is one compare-and-set status move.
type change struct {
	from   domain.ApplicationStatus
	to     domain.ApplicationStatus
	reason string
	data   map[string]any
	mutate func(app *domain.Application)
}

// transition applies c when the locked row is still in c.from, writing the
// status and its audit row together. ok is false when another worker moved the
// application first.
func (o *Orchestrator) transition(ctx context.Context, requestID string, c change) (ok bool, err error) {
	err = o.store.RunInTx(ctx, func(tx store.Store) error {
		app, err := tx.FindApplicationByRequestID(ctx, requestID)
		if err != nil {
			return err
		}
		if app.Status != c.from {
			return nil
		}
		if c.mutate != nil {
			c.mutate(app)
		}
		var decisionReason string
		if c.to.IsTerminal() {
			decisionReason = c.reason
		}
		if _, err := app.TransitionTo(c.to, decisionReason, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return err
		}

		data := map[string]any{"reason": c.reason}
		maps.Copy(data, c.data)
		if err := audit.Emit(ctx, tx, app.ID, c.to.AuditEventType(), data); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, storeError(err, fmt.Sprintf("move application to %s", c.to))
	}
	if !ok {
		o.logger.DebugContext(ctx, "status changed concurrently, skipping",
			"request_id", requestID,
			"expected", string(c.from),
			"target", string(c.to),
		)
		return false, nil
	}
	o.logger.InfoContext(ctx, "application status updated",
		"request_id", requestID,
		"new_status", string(c.to),
		"reason", c.reason,
	)
	return true, nil
}

func decodeInput(args json.RawMessage) (StageInput, error) {
	var in StageInput
	if err := json.Unmarshal(args, &in); err != nil {
		return in, tasks.Permanent(fmt.Errorf("decode stage input: %w", err))
	}
	if in.RequestID == "" {
		return in, tasks.Permanent(errors.New("stage input has no request_id"))
	}
	return in, nil
}

func storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeTransient, msg)
	}
}
