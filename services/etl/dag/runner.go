// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "aleutian.etl.dag"

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source used for step and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) {
		if tp != nil {
			r.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Runner) {
		if mp != nil {
			r.meter = mp.Meter(instrumentationName)
		}
	}
}

// Runner owns the single PipelineRun of a Graph and executes it.
//
// Description:
//
//	Start launches one background goroutine per execution. That goroutine is
//	the only writer of step state; readers get deep copies through Status.
//	Steps run one at a time in the graph's execution order, so a step is
//	only started once every step it depends on has succeeded.
//
// Thread Safety:
//
//	Runner is safe for concurrent use. Start and Reset serialize on the same
//	mutex, so concurrent Start calls have exactly one winner.
type Runner struct {
	graph  *Graph
	logger *slog.Logger
	now    func() time.Time
	tracer trace.Tracer
	meter  metric.Meter

	mu   sync.RWMutex
	run  *runState
	done chan struct{}

	// Metrics (initialized lazily)
	metricsOnce  sync.Once
	stepLatency  metric.Float64Histogram
	stepOutcomes metric.Int64Counter
	runLatency   metric.Float64Histogram
}

// NewRunner creates a Runner with an Idle run.
//
// Inputs:
//
//	graph - The validated pipeline graph. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Runner - The runner.
//	error - ErrInvalidGraph if graph is nil.
func NewRunner(graph *Graph, opts ...Option) (*Runner, error) {
	if graph == nil {
		return nil, fmt.Errorf("%w: nil graph", ErrInvalidGraph)
	}

	r := &Runner{
		graph:  graph,
		logger: slog.Default(),
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("pipeline", graph.ID()))
	r.run = newRunState(graph)

	return r, nil
}

// Graph returns the graph the runner executes.
func (r *Runner) Graph() *Graph {
	return r.graph
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but keeps executing.
func (r *Runner) initMetrics() {
	r.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		r.stepLatency, err = r.meter.Float64Histogram("etl_step_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline step"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "step_latency: "+err.Error())
		}

		r.stepOutcomes, err = r.meter.Int64Counter("etl_step_outcomes_total",
			metric.WithDescription("Number of finished pipeline steps by outcome"),
		)
		if err != nil {
			initErrors = append(initErrors, "step_outcomes: "+err.Error())
		}

		r.runLatency, err = r.meter.Float64Histogram("etl_run_duration_seconds",
			metric.WithDescription("Total pipeline run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			r.logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Start begins a new execution in the background.
//
// Description:
//
//	If a run is executing, returns its snapshot and ErrAlreadyRunning without
//	touching it. Otherwise the current run is replaced by a fresh one with
//	every step Pending, status Running, a start time and a new execution id,
//	and the steps are executed on a new goroutine. The goroutine is detached
//	from ctx cancellation so that a closed HTTP request does not abort the
//	run; ctx still provides the parent span.
//
// Outputs:
//
//	Snapshot - The run right after reinitialization.
//	error - ErrAlreadyRunning if a run is executing.
func (r *Runner) Start(ctx context.Context) (Snapshot, error) {
	r.initMetrics()

	r.mu.Lock()
	if r.run.status == RunRunning {
		snap := r.run.snapshot()
		r.mu.Unlock()
		return snap, ErrAlreadyRunning
	}

	now := r.now()
	run := newRunState(r.graph)
	run.executionID = uuid.NewString()
	run.status = RunRunning
	run.startedAt = &now

	done := make(chan struct{})
	r.run = run
	r.done = done
	snap := run.snapshot()
	r.mu.Unlock()

	r.logger.Info("pipeline started",
		slog.String("execution_id", run.executionID),
		slog.Int("steps", r.graph.Len()),
	)

	go r.execute(context.WithoutCancel(ctx), run, done)

	return snap, nil
}

// Status returns a deep copy of the current run.
func (r *Runner) Status() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.run.snapshot()
}

// Reset discards the current run and installs a fresh Idle one.
//
// Outputs:
//
//	Snapshot - The fresh run, or the executing run on error.
//	error - ErrPipelineBusy if a run is executing.
func (r *Runner) Reset() (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run.status == RunRunning {
		return r.run.snapshot(), ErrPipelineBusy
	}

	r.run = newRunState(r.graph)
	r.done = nil
	r.logger.Info("pipeline reset")

	return r.run.snapshot(), nil
}

// Wait blocks until the execution started by the last Start finishes, or ctx
// is done. It returns immediately when nothing is executing.
func (r *Runner) Wait(ctx context.Context) (Snapshot, error) {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return r.Status(), ctx.Err()
		}
	}
	return r.Status(), nil
}

// execute runs the steps of run until all succeed or one fails.
// It is the only writer of run once Start has returned.
func (r *Runner) execute(ctx context.Context, run *runState, done chan struct{}) {
	defer close(done)

	ctx, span := r.tracer.Start(ctx, "etl.Pipeline",
		trace.WithAttributes(
			attribute.String("etl.pipeline", r.graph.ID()),
			attribute.String("etl.execution_id", run.executionID),
			attribute.Int("etl.step_count", r.graph.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	outputs := make(map[string]any, r.graph.Len())
	var runErr error

	for {
		step, ok, err := r.claimNext(run)
		if err != nil {
			runErr = err
			r.finish(run, RunFailed, err)
			break
		}
		if !ok {
			r.finish(run, RunSucceeded, nil)
			break
		}

		out, err := r.runStep(ctx, step, NewInputs(outputs), run.executionID)
		if err != nil {
			runErr = &StepError{StepID: step.ID, Err: err}
			r.failStep(run, step.ID, err)
			break
		}
		outputs[step.ID] = out.Value
		r.completeStep(run, step.ID, out)
	}

	duration := time.Since(start)
	if r.runLatency != nil {
		r.runLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("pipeline", r.graph.ID())),
		)
	}

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		r.logger.Error("pipeline failed",
			slog.String("execution_id", run.executionID),
			slog.Duration("duration", duration),
			slog.String("error", runErr.Error()),
		)
		return
	}

	span.SetStatus(codes.Ok, "")
	r.logger.Info("pipeline completed",
		slog.String("execution_id", run.executionID),
		slog.Duration("duration", duration),
	)
}

// claimNext marks the first ready step Running and returns it.
//
// Returns ok=false when every step has succeeded, and ErrNoProgress when
// steps remain pending but none has all of its dependencies satisfied.
func (r *Runner) claimNext(run *runState) (Step, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.graph.Order() {
		st := run.byID[id]
		if st.status != StepPending || !run.dependenciesSucceeded(st) {
			continue
		}
		if err := st.transition(StepRunning); err != nil {
			return Step{}, false, err
		}
		now := r.now()
		st.startedAt = &now
		run.currentNode = id

		step, _ := r.graph.Step(id)
		return step, true, nil
	}

	if pending := run.countStatus(StepPending); pending > 0 {
		return Step{}, false, fmt.Errorf("%w: %d steps pending", ErrNoProgress, pending)
	}
	return Step{}, false, nil
}

// runStep invokes the task of step outside the runner lock.
func (r *Runner) runStep(ctx context.Context, step Step, in Inputs, executionID string) (Output, error) {
	ctx, span := r.tracer.Start(ctx, "etl.Step",
		trace.WithAttributes(
			attribute.String("etl.step", step.ID),
			attribute.StringSlice("etl.dependencies", step.DependsOn),
			attribute.String("etl.execution_id", executionID),
		),
	)
	defer span.End()

	r.logger.Info("step started",
		slog.String("step", step.ID),
		slog.String("execution_id", executionID),
	)

	start := time.Now()
	out, err := invoke(ctx, step.Task, in)
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	attrs := metric.WithAttributes(
		attribute.String("step", step.ID),
		attribute.String("outcome", outcome),
	)
	if r.stepLatency != nil {
		r.stepLatency.Record(ctx, duration.Seconds(), attrs)
	}
	if r.stepOutcomes != nil {
		r.stepOutcomes.Add(ctx, 1, attrs)
	}

	if err != nil {
		r.logger.Error("step failed",
			slog.String("step", step.ID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return Output{}, err
	}

	r.logger.Info("step completed",
		slog.String("step", step.ID),
		slog.Duration("duration", duration),
	)
	return out, nil
}

// invoke calls task, converting a panic into ErrStepPanicked.
func invoke(ctx context.Context, task Task, in Inputs) (out Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanicked, p)
		}
	}()
	return task(ctx, in)
}

func (r *Runner) completeStep(run *runState, id string, out Output) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := run.byID[id]
	if err := st.transition(StepSucceeded); err != nil {
		r.logger.Error("unexpected step transition", slog.String("error", err.Error()))
		return
	}
	now := r.now()
	st.finishedAt = &now
	st.records = out.Records
	st.warnings = append([]string(nil), out.Warnings...)
	st.summary = out.Summary
}

// failStep marks id Failed, skips its pending descendants and fails the run.
func (r *Runner) failStep(run *runState, id string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	st := run.byID[id]
	if err := st.transition(StepFailed); err != nil {
		r.logger.Error("unexpected step transition", slog.String("error", err.Error()))
	}
	st.finishedAt = &now
	st.errMsg = cause.Error()

	for _, dep := range r.graph.Descendants(id) {
		d := run.byID[dep]
		if d.status != StepPending {
			continue
		}
		if err := d.transition(StepSkipped); err != nil {
			r.logger.Error("unexpected step transition", slog.String("error", err.Error()))
			continue
		}
		r.logger.Debug("step skipped",
			slog.String("step", dep),
			slog.String("failed_dependency", id),
		)
	}

	run.status = RunFailed
	run.finishedAt = &now
	run.errMsg = (&StepError{StepID: id, Err: cause}).Error()
}

func (r *Runner) finish(run *runState, status RunStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	run.status = status
	run.finishedAt = &now
	if err != nil {
		run.errMsg = err.Error()
	}
}
