package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"loanflow/internal/domain"
	"loanflow/internal/platform/tracer"
	"loanflow/internal/tasks"
	dErrors "loanflow/pkg/domain-errors"
	"loanflow/pkg/platform/sentinel"
)

type stageFunc func(ctx context.Context, app *domain.Application) error

// stageHandler wraps run with input decoding, the status guard, a span and
// metrics. The handler's output is its input so the next stage gets the same shape.
func (o *Orchestrator) stageHandler(stage string, expected domain.ApplicationStatus, run stageFunc) tasks.Handler {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		in, err := decodeInput(args)
		if err != nil {
			return nil, err
		}

		ctx, span := o.tracer.Start(ctx, "workflow.stage."+stage, tracer.String("request_id", in.RequestID))
		start := time.Now()
		err = o.runStage(ctx, in.RequestID, expected, run)
		elapsed := time.Since(start)
		o.metrics.observeStage(stage, elapsed)
		span.SetAttributes(tracer.Duration("elapsed_ms", elapsed))

		switch {
		case err == nil:
			span.End(nil)
			return args, nil
		case errors.Is(err, tasks.ErrHaltChain):
			span.AddEvent("chain halted")
			span.End(nil)
			return nil, err
		default:
			o.metrics.recordStageFailure(stage, err)
			span.End(err)
			return nil, err
		}
	}
}

func (o *Orchestrator) runStage(ctx context.Context, requestID string, expected domain.ApplicationStatus, run stageFunc) error {
	app, err := o.store.FindApplicationByRequestID(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		o.logger.WarnContext(ctx, "stage dispatched for unknown application", "request_id", requestID)
		return tasks.ErrHaltChain
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransient, "load application")
	}

	if app.Status != expected {
		if app.Status.Rank() > expected.Rank() {
			o.logger.DebugContext(ctx, "stage already complete, skipping",
				"request_id", requestID,
				"stage_status", string(expected),
				"status", string(app.Status),
			)
		} else {
			o.logger.WarnContext(ctx, "stage dispatched before application reached it",
				"request_id", requestID,
				"stage_status", string(expected),
				"status", string(app.Status),
			)
		}
		return tasks.ErrHaltChain
	}
	return run(ctx, app)
}

// advance applies c and halts the chain when a concurrent worker won the race.
func (o *Orchestrator) advance(ctx context.Context, requestID string, c change) error {
	ok, err := o.transition(ctx, requestID, c)
	if err != nil {
		return err
	}
	if !ok {
		return tasks.ErrHaltChain
	}
	return nil
}

func (o *Orchestrator) preprocess(ctx context.Context, app *domain.Application) error {
	normalized := app.Clone()
	if err := o.preprocessor.Preprocess(ctx, normalized); err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	return o.advance(ctx, app.RequestID, change{
		from:   domain.StatusPreprocessing,
		to:     domain.StatusDataEnrichment,
		reason: reasonPreprocessed,
		mutate: func(locked *domain.Application) {
			copyApplicantData(locked, normalized)
		},
	})
}

func (o *Orchestrator) enrich(ctx context.Context, app *domain.Application) error {
	res, err := o.enricher.Enrich(ctx, app)
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	if res == nil {
		return errors.New("enrich: enricher returned no result")
	}

	if !res.Verified {
		err := o.advance(ctx, app.RequestID, change{
			from:   domain.StatusDataEnrichment,
			to:     domain.StatusManualReview,
			reason: ReasonDataVerification,
			data:   enrichmentData(res),
		})
		if err != nil {
			return err
		}
		o.metrics.recordDecision(domain.StatusManualReview)
		return tasks.ErrHaltChain
	}

	reason := res.Reason
	if reason == "" {
		reason = reasonEnriched
	}
	return o.advance(ctx, app.RequestID, change{
		from:   domain.StatusDataEnrichment,
		to:     domain.StatusScoring,
		reason: reason,
		data:   enrichmentData(res),
	})
}

func (o *Orchestrator) score(ctx context.Context, app *domain.Application) error {
	score, err := o.scorer.Score(ctx, app)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return tasks.Permanent(fmt.Errorf("risk score %v outside [0, 1]", score))
	}

	d := Decide(score, o.thresholds)
	err = o.advance(ctx, app.RequestID, change{
		from:   domain.StatusScoring,
		to:     d.Status,
		reason: d.Reason,
		data:   map[string]any{"risk_score": score},
		mutate: func(locked *domain.Application) {
			locked.RiskScore = &score
		},
	})
	if err != nil {
		return err
	}
	o.metrics.recordDecision(d.Status)
	return nil
}

func enrichmentData(res *Enrichment) map[string]any {
	data := map[string]any{"external_data_verified": res.Verified}
	if len(res.Data) > 0 {
		data["checks"] = res.Data
	}
	return data
}

// copyApplicantData copies the contact fields a Preprocessor may rewrite.
func copyApplicantData(dst, src *domain.Application) {
	dst.Email = src.Email
	dst.Phone = src.Phone
	dst.FullName = src.FullName
	dst.Citizenship = src.Citizenship
	dst.Address = src.Address
}
