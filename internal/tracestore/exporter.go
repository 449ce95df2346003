package tracestore

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Attribute keys lifted into dedicated columns.
const (
	attrEntityKind   = "traceloop.span.kind"
	attrWorkflowName = "traceloop.workflow.name"
	attrRunID        = "traceflow.run_id"
	attrServiceName  = "service.name"
)

// RecordWriter accepts span records; *Logger satisfies it.
type RecordWriter interface {
	Write(rec *SpanRecord)
}

// Exporter is an sdktrace.SpanExporter that hands finished spans to a RecordWriter.
type Exporter struct {
	w       RecordWriter
	stopped atomic.Bool
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)

// NewExporter creates an exporter writing to w.
func NewExporter(w RecordWriter) *Exporter {
	return &Exporter{w: w}
}

// ExportSpans converts and queues spans. Spans arriving after Shutdown are ignored.
func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.stopped.Load() {
		return nil
	}
	for _, s := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.w.Write(FromSpan(s))
	}
	return nil
}

// Shutdown stops accepting spans. The underlying Logger is closed by its owner.
func (e *Exporter) Shutdown(_ context.Context) error {
	e.stopped.Store(true)
	return nil
}

// FromSpan converts a finished span into a SpanRecord.
func FromSpan(s sdktrace.ReadOnlySpan) *SpanRecord {
	sc := s.SpanContext()
	rec := &SpanRecord{
		ID:            uuid.NewString(),
		TraceID:       sc.TraceID().String(),
		SpanID:        sc.SpanID().String(),
		Name:          s.Name(),
		Kind:          s.SpanKind().String(),
		StartTime:     s.StartTime(),
		EndTime:       s.EndTime(),
		DurationMs:    s.EndTime().Sub(s.StartTime()).Milliseconds(),
		StatusCode:    s.Status().Code.String(),
		StatusMessage: s.Status().Description,
	}
	if parent := s.Parent(); parent.HasSpanID() {
		rec.ParentSpanID = parent.SpanID().String()
	}

	attrs := s.Attributes()
	if len(attrs) > 0 {
		rec.Attributes = make(map[string]any, len(attrs))
	}
	for _, kv := range attrs {
		key := string(kv.Key)
		rec.Attributes[key] = kv.Value.AsInterface()
		if kv.Value.Type() != attribute.STRING {
			continue
		}
		switch key {
		case attrEntityKind:
			rec.EntityKind = kv.Value.AsString()
		case attrWorkflowName:
			rec.WorkflowName = kv.Value.AsString()
		case attrRunID:
			rec.RunID = kv.Value.AsString()
		}
	}

	if res := s.Resource(); res != nil {
		if v, ok := res.Set().Value(attrServiceName); ok {
			rec.ServiceName = v.AsString()
		}
	}
	return rec
}
