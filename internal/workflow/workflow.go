// Package workflow advances loan applications through the decision pipeline.
//
// The orchestrator reads the persisted status to decide what runs next, so it
// can be re-invoked for the same application at any point:
//
//	submitted -> awaiting_verification -> verified -> preprocessing
//	  -> data_enrichment -> scoring -> approved | rejected | manual_review
//
// Each stage is a separate task with its own retry policy. A stage that runs
// out of retries moves the application to error and the chain stops.
package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"loanflow/internal/domain"
	"loanflow/internal/platform/tracer"
	"loanflow/internal/store"
	"loanflow/internal/tasks"
)

// Task names registered by Register.
const (
	TaskExecute    tasks.Name = "workflow.execute"
	TaskPreprocess tasks.Name = "workflow.preprocess"
	TaskEnrich     tasks.Name = "workflow.enrich"
	TaskScore      tasks.Name = "workflow.score"
)

// StageInput is the payload every workflow task receives and returns.
type StageInput struct {
	RequestID string `json:"request_id"`
}

// VerificationReader reports the latest verification status per channel.
type VerificationReader interface {
	GetStatus(ctx context.Context, applicationID int64) (map[domain.Channel]domain.VerificationStatus, error)
}

// Preprocessor normalizes applicant data in place.
type Preprocessor interface {
	Preprocess(ctx context.Context, app *domain.Application) error
}

// Enrichment is the outcome of checking an application against external sources.
type Enrichment struct {
	Verified bool
	Reason   string
	Data     map[string]any
}

// Enricher checks applicant data against external sources.
type Enricher interface {
	Enrich(ctx context.Context, app *domain.Application) (*Enrichment, error)
}

// Scorer produces a risk score in [0, 1]; higher is better.
type Scorer interface {
	Score(ctx context.Context, app *domain.Application) (float64, error)
}

// Orchestrator drives applications through the pipeline.
type Orchestrator struct {
	store         store.Store
	verifications VerificationReader
	dispatcher    tasks.Dispatcher

	preprocessor Preprocessor
	enricher     Enricher
	scorer       Scorer
	thresholds   Thresholds
	required     []domain.Channel

	logger  *slog.Logger
	metrics *Metrics
	tracer  tracer.Tracer
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithPreprocessor replaces the NormalizingPreprocessor.
func WithPreprocessor(p Preprocessor) Option {
	return func(o *Orchestrator) {
		o.preprocessor = p
	}
}

// WithEnricher replaces the RuleEnricher.
func WithEnricher(e Enricher) Option {
	return func(o *Orchestrator) {
		o.enricher = e
	}
}

// WithScorer replaces the AffordabilityScorer.
func WithScorer(s Scorer) Option {
	return func(o *Orchestrator) {
		o.scorer = s
	}
}

// WithThresholds sets the approve and reject score thresholds. Values outside
// 0 <= reject <= approve <= 1 are ignored.
func WithThresholds(approve, reject float64) Option {
	return func(o *Orchestrator) {
		if reject < 0 || approve > 1 || reject > approve {
			return
		}
		o.thresholds = Thresholds{Approve: approve, Reject: reject}
	}
}

// WithRequiredChannels sets which channels must be verified before processing.
func WithRequiredChannels(channels ...domain.Channel) Option {
	return func(o *Orchestrator) {
		if len(channels) > 0 {
			o.required = channels
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics enables workflow metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(t tracer.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// New creates an orchestrator. The store, verification reader and dispatcher
// are required.
func New(st store.Store, verifications VerificationReader, dispatcher tasks.Dispatcher, opts ...Option) *Orchestrator {
	if st == nil {
		panic("workflow.New: store is required")
	}
	if verifications == nil {
		panic("workflow.New: verification reader is required")
	}
	if dispatcher == nil {
		panic("workflow.New: dispatcher is required")
	}
	o := &Orchestrator{
		store:         st,
		verifications: verifications,
		dispatcher:    dispatcher,
		preprocessor:  NormalizingPreprocessor{},
		enricher:      NewRuleEnricher(),
		scorer:        NewAffordabilityScorer(),
		thresholds:    DefaultThresholds,
		required:      []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		logger:        slog.Default(),
		tracer:        tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register installs the workflow tasks on reg.
func (o *Orchestrator) Register(reg *tasks.Registry) {
	reg.Register(tasks.Definition{
		Name:        TaskExecute,
		Queue:       tasks.QueueWorkflow,
		MaxRetries:  3,
		RetryDelay:  60 * time.Second,
		Handler:     o.handleExecute,
		OnExhausted: o.failFromTask,
	})
	reg.Register(tasks.Definition{
		Name:        TaskPreprocess,
		Queue:       tasks.QueueProcessing,
		MaxRetries:  3,
		RetryDelay:  30 * time.Second,
		Handler:     o.stageHandler("preprocess", domain.StatusPreprocessing, o.preprocess),
		OnExhausted: o.failFromTask,
	})
	reg.Register(tasks.Definition{
		Name:        TaskEnrich,
		Queue:       tasks.QueueEnrichment,
		MaxRetries:  3,
		RetryDelay:  60 * time.Second,
		Handler:     o.stageHandler("enrich", domain.StatusDataEnrichment, o.enrich),
		OnExhausted: o.failFromTask,
	})
	reg.Register(tasks.Definition{
		Name:        TaskScore,
		Queue:       tasks.QueueScoring,
		MaxRetries:  3,
		RetryDelay:  30 * time.Second,
		Handler:     o.stageHandler("score", domain.StatusScoring, o.score),
		OnExhausted: o.failFromTask,
	})
}

// Trigger queues an Execute run for requestID. It is used as the verification
// hook, so failures are logged rather than returned.
func (o *Orchestrator) Trigger(ctx context.Context, requestID string) {
	if _, err := o.dispatcher.Enqueue(ctx, TaskExecute, StageInput{RequestID: requestID}); err != nil {
		o.logger.ErrorContext(ctx, "failed to queue workflow",
			"request_id", requestID,
			"error", err,
		)
	}
}

func (o *Orchestrator) handleExecute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput(args)
	if err != nil {
		return nil, err
	}
	if err := o.Execute(ctx, in.RequestID); err != nil {
		return nil, err
	}
	return args, nil
}

func (o *Orchestrator) failFromTask(ctx context.Context, args json.RawMessage, cause error) {
	var in StageInput
	if err := json.Unmarshal(args, &in); err != nil || in.RequestID == "" {
		o.logger.ErrorContext(ctx, "exhausted workflow task has no request id", "error", cause)
		return
	}
	if err := o.Fail(ctx, in.RequestID, cause); err != nil {
		o.logger.ErrorContext(ctx, "failed to record workflow error",
			"request_id", in.RequestID,
			"cause", cause,
			"error", err,
		)
	}
}
