// internal/job/orchestrator.go
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
	"mcp-meal-vision/internal/status"
	"mcp-meal-vision/internal/vision"
)

// CancelledMessage is the status message of a job stopped by its caller.
const CancelledMessage = "Analysis cancelled"

// savingProgress is reported once the estimate is validated and the insert
// is about to run.
const savingProgress = 0.75

// Analyzer is the vision step of an attempt.
type Analyzer interface {
	Analyze(ctx context.Context, photoRef string) (vision.Outcome, error)
}

// Store persists a validated meal with a single atomic insert.
type Store interface {
	Insert(ctx context.Context, in models.MealInput) (string, error)
}

type RetryPolicy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		InitialInterval:     2 * time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.2,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = p.RandomizationFactor
	// Attempts bound the job, not elapsed time.
	exp.MaxElapsedTime = 0

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

type Input struct {
	JobID      string
	PhotoRef   string
	CapturedAt time.Time
	// Status receives the job's transitions. A fresh machine is used when nil.
	Status *status.Machine
}

type Result struct {
	JobID    string
	Status   status.AnalysisStatus
	Attempts int
	RecordID string
	// Kind is the classified failure of an Error result, nil otherwise.
	Kind failure.ErrorKind
}

type Options struct {
	Policy RetryPolicy
	Tracer trace.Tracer
	Logger *log.Logger
}

// Orchestrator drives one analysis job from photo to persisted record.
type Orchestrator struct {
	analyzer Analyzer
	store    Store
	policy   RetryPolicy
	tracer   trace.Tracer
	logger   *log.Logger
}

func NewOrchestrator(analyzer Analyzer, store Store, opts Options) *Orchestrator {
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("meal-vision/job")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Orchestrator{
		analyzer: analyzer,
		store:    store,
		policy:   opts.Policy,
		tracer:   opts.Tracer,
		logger:   opts.Logger.WithPrefix("job"),
	}
}

// noFoodError ends the retry loop for a photo without a meal.
type noFoodError struct {
	models.NoFoodDetected
}

func (e *noFoodError) Error() string { return "no food detected: " + e.Reason }

type attemptResult struct {
	recordID string
	data     models.NutritionData
}

// Run executes the job and returns once it reached a terminal state.
func (o *Orchestrator) Run(ctx context.Context, in Input) Result {
	ctx, span := o.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job_id", in.JobID),
	))
	defer span.End()

	machine := in.Status
	if machine == nil {
		machine = status.NewMachine(in.JobID)
	}
	logger := o.logger.With("job_id", in.JobID)
	result := Result{JobID: in.JobID}

	if err := machine.Transition(status.Indeterminate(1)); err != nil {
		logger.Error("job did not start", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "job did not start")
		result.Status = machine.Current()
		return result
	}

	var done attemptResult
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		result.Attempts++
		if result.Attempts > 1 {
			o.transition(logger, machine, status.Indeterminate(result.Attempts))
		}

		res, err := o.attempt(ctx, machine, in, result.Attempts)
		if err == nil {
			done = res
			return nil
		}

		var nf *noFoodError
		switch {
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.As(err, &nf):
			return backoff.Permanent(err)
		}

		kind := failure.Classify(err)
		if !failure.IsRetryable(kind) {
			logger.Warn("attempt failed", "attempt", result.Attempts, "kind", kind.Name(), "err", err)
			return backoff.Permanent(err)
		}
		logger.Warn("attempt failed, will retry", "attempt", result.Attempts, "kind", kind.Name(), "err", err)
		return err
	}

	err := backoff.RetryNotify(operation, o.policy.newBackOff(ctx), func(err error, wait time.Duration) {
		logger.Debug("backing off", "wait", wait)
	})

	var final status.AnalysisStatus
	var nf *noFoodError
	switch {
	case err == nil:
		result.RecordID = done.recordID
		final = status.Success{Data: done.data, RecordID: done.recordID}
		logger.Info("meal logged", "record_id", done.recordID, "calories", done.data.Calories(), "attempts", result.Attempts)

	case ctx.Err() != nil:
		final = status.Error{Message: CancelledMessage, Cause: ctx.Err()}
		logger.Info("job cancelled", "attempts", result.Attempts)

	case errors.As(err, &nf):
		final = status.Error{Message: failure.NoFoodMessage(nf.Reason).Text, NoFood: true}
		logger.Info("no food detected", "reason", nf.Reason)

	default:
		result.Kind = failure.Classify(err)
		final = status.Error{Message: failure.UserMessage(result.Kind).Text, Kind: result.Kind, Cause: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, result.Kind.Name())
		logger.Error("job failed", "kind", result.Kind.Name(), "attempts", result.Attempts, "err", err)
	}

	span.SetAttributes(
		attribute.Int("attempts", result.Attempts),
		attribute.String("final_state", final.Name()),
	)
	o.transition(logger, machine, final)
	result.Status = machine.Current()
	return result
}

func (o *Orchestrator) attempt(ctx context.Context, machine *status.Machine, in Input, n int) (attemptResult, error) {
	ctx, span := o.tracer.Start(ctx, "job.attempt", trace.WithAttributes(
		attribute.String("job_id", in.JobID),
		attribute.Int("attempt", n),
	))
	defer span.End()

	res, err := o.analyzeAndSave(ctx, machine, in, n)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error_kind", failure.Classify(err).Name()))
		span.SetStatus(codes.Error, "attempt failed")
	}
	return res, err
}

func (o *Orchestrator) analyzeAndSave(ctx context.Context, machine *status.Machine, in Input, n int) (attemptResult, error) {
	outcome, err := o.analyzer.Analyze(ctx, in.PhotoRef)
	if err != nil {
		return attemptResult{}, err
	}

	var data models.NutritionData
	switch out := outcome.(type) {
	case vision.Detected:
		data = out.Data
	case vision.NoFood:
		return attemptResult{}, &noFoodError{out.NoFoodDetected}
	default:
		return attemptResult{}, fmt.Errorf("unexpected analysis outcome %T", outcome)
	}

	o.transition(o.logger.With("job_id", in.JobID), machine, status.WithProgress(savingProgress, n, status.StageSaving))

	// Nothing has been written yet, so stopping here leaves no partial record.
	if err := ctx.Err(); err != nil {
		return attemptResult{}, err
	}

	recordID, err := o.store.Insert(ctx, models.MealInput{
		Nutrition: data,
		Timestamp: in.CapturedAt,
		PhotoRef:  in.PhotoRef,
		JobID:     in.JobID,
		Source:    models.SourceAIPhoto,
	})
	if err != nil {
		return attemptResult{}, fmt.Errorf("failed to save meal: %w", err)
	}
	return attemptResult{recordID: recordID, data: data}, nil
}

func (o *Orchestrator) transition(logger *log.Logger, machine *status.Machine, next status.AnalysisStatus) {
	if err := machine.Transition(next); err != nil {
		logger.Error("status transition rejected", "to", next.Name(), "err", err)
	}
}
