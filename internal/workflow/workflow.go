// Package workflow wraps units of work in named spans so a run shows up in
// the trace backend as one workflow with its tasks and model calls nested below.
package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"traceflow/internal/core"
	"traceflow/internal/metrics"
	"traceflow/internal/tracing"
)

// Span attribute keys understood by Traceloop-compatible backends.
const (
	AttrSpanKind     = "traceloop.span.kind"
	AttrEntityName   = "traceloop.entity.name"
	AttrWorkflowName = "traceloop.workflow.name"
	AttrRunID        = "traceflow.run_id"
)

// Span kinds.
const (
	KindWorkflow = "workflow"
	KindTask     = "task"
)

// Run executes fn inside a workflow span named "<name>.workflow". The context
// passed to fn carries the workflow name and a fresh run ID. fn's results are
// returned unchanged.
func Run[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if strings.TrimSpace(name) == "" {
		return zero, core.NewInvalidRequestError("workflow name is required", nil)
	}

	runID := uuid.NewString()
	ctx = core.WithWorkflowName(ctx, name)
	ctx = core.WithRunID(ctx, runID)

	ctx, span := tracing.Tracer().Start(ctx, name+"."+KindWorkflow,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrSpanKind, KindWorkflow),
			attribute.String(AttrEntityName, name),
			attribute.String(AttrWorkflowName, name),
			attribute.String(AttrRunID, runID),
		),
	)
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	metrics.ObserveWorkflow(name, time.Since(start), err)
	finish(span, err)
	return v, err
}

// Task executes fn inside a task span named "<name>.task", tagged with the
// enclosing workflow name when there is one.
func Task[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if strings.TrimSpace(name) == "" {
		return zero, core.NewInvalidRequestError("task name is required", nil)
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrSpanKind, KindTask),
		attribute.String(AttrEntityName, name),
	}
	if wf := core.GetWorkflowName(ctx); wf != "" {
		attrs = append(attrs, attribute.String(AttrWorkflowName, wf))
	}
	if runID := core.GetRunID(ctx); runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}

	ctx, span := tracing.Tracer().Start(ctx, name+"."+KindTask, trace.WithAttributes(attrs...))
	defer span.End()

	v, err := fn(ctx)
	finish(span, err)
	return v, err
}

// Wrap returns fn decorated with Run under name.
func Wrap[T any](name string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Run(ctx, name, fn)
	}
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
