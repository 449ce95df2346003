package providers

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"traceflow/internal/core"
	"traceflow/internal/metrics"
	"traceflow/internal/tracing"
	"traceflow/internal/workflow"
)

// GenAI semantic-convention attribute keys set on model spans.
const (
	AttrSystem             = "gen_ai.system"
	AttrOperationName      = "gen_ai.operation.name"
	AttrRequestModel       = "gen_ai.request.model"
	AttrRequestMaxTokens   = "gen_ai.request.max_tokens"
	AttrRequestTemperature = "gen_ai.request.temperature"
	AttrResponseModel      = "gen_ai.response.model"
	AttrResponseID         = "gen_ai.response.id"
	AttrFinishReason       = "gen_ai.response.finish_reasons"
	AttrInputTokens        = "gen_ai.usage.input_tokens"
	AttrOutputTokens       = "gen_ai.usage.output_tokens"
	AttrPromptRole         = "gen_ai.prompt.0.role"
	AttrPromptContent      = "gen_ai.prompt.0.content"
	AttrCompletionContent  = "gen_ai.completion.0.content"
	AttrCacheHit           = "traceflow.cache_hit"
)

// Traced decorates a provider with one client span per request plus
// model request metrics, and stamps the provider name on responses.
type Traced struct {
	inner          core.Provider
	name           string
	captureContent bool
}

// NewTraced wraps p. When captureContent is set the first prompt message and
// the completion text are recorded on the span.
func NewTraced(p core.Provider, name string, captureContent bool) *Traced {
	return &Traced{inner: p, name: name, captureContent: captureContent}
}

// Name returns the provider name used for span and metric labels.
func (t *Traced) Name() string {
	return t.name
}

// ChatCompletion calls the wrapped provider inside a "<provider>.chat" span.
func (t *Traced) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSystem, t.name),
		attribute.String(AttrOperationName, "chat"),
		attribute.String(workflow.AttrSpanKind, "llm"),
	}
	if wf := core.GetWorkflowName(ctx); wf != "" {
		attrs = append(attrs, attribute.String(workflow.AttrWorkflowName, wf))
	}
	if runID := core.GetRunID(ctx); runID != "" {
		attrs = append(attrs, attribute.String(workflow.AttrRunID, runID))
	}
	model := ""
	if req != nil {
		model = req.Model
		attrs = append(attrs, attribute.String(AttrRequestModel, req.Model))
		if req.MaxTokens != nil {
			attrs = append(attrs, attribute.Int(AttrRequestMaxTokens, *req.MaxTokens))
		}
		if req.Temperature != nil {
			attrs = append(attrs, attribute.Float64(AttrRequestTemperature, *req.Temperature))
		}
		if t.captureContent && len(req.Messages) > 0 {
			attrs = append(attrs,
				attribute.String(AttrPromptRole, req.Messages[0].Role),
				attribute.String(AttrPromptContent, req.Messages[0].Content),
			)
		}
	}

	ctx, span := tracing.Tracer().Start(ctx, t.name+".chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	start := time.Now()
	resp, err := t.inner.ChatCompletion(ctx, req)
	if err != nil {
		metrics.ObserveModelRequest(t.name, model, 0, 0, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp.Provider = t.name
	// A cache hit made no model call; cache_lookups_total already counts it.
	if !resp.Cached {
		metrics.ObserveModelRequest(t.name, model, resp.Usage.InputTokens, resp.Usage.OutputTokens, nil)
	}

	span.SetAttributes(
		attribute.String(AttrResponseModel, resp.Model),
		attribute.String(AttrResponseID, resp.ID),
		attribute.Int(AttrInputTokens, resp.Usage.InputTokens),
		attribute.Int(AttrOutputTokens, resp.Usage.OutputTokens),
		attribute.Bool(AttrCacheHit, resp.Cached),
		attribute.Int64("traceflow.latency_ms", time.Since(start).Milliseconds()),
	)
	if resp.StopReason != "" {
		span.SetAttributes(attribute.StringSlice(AttrFinishReason, []string{resp.StopReason}))
	}
	if t.captureContent {
		span.SetAttributes(attribute.String(AttrCompletionContent, resp.Content))
	}
	span.SetStatus(codes.Ok, "")
	return resp, nil
}
