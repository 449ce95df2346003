// Package tracestore persists finished spans to the configured database so
// workflow runs can be inspected after the process exits.
package tracestore

import (
	"context"
	"time"
)

// BatchFlushThreshold is the number of queued records that triggers an
// immediate write without waiting for the flush ticker.
const BatchFlushThreshold = 100

// Store defines the interface for span storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes multiple span records to storage.
	WriteBatch(ctx context.Context, records []*SpanRecord) error

	// Flush forces any pending writes to complete.
	Flush(ctx context.Context) error

	// Close stops background work. The database connection is owned by the storage layer.
	Close() error
}

// RunQuery selects workflow runs for Reader.ListRuns.
type RunQuery struct {
	// Workflow filters by workflow name; empty matches all.
	Workflow string
	// Limit caps the result size (default 20, max 200).
	Limit int
}

// Reader provides read access to stored spans.
type Reader interface {
	// GetTrace returns all spans of a trace ordered by start time.
	GetTrace(ctx context.Context, traceID string) ([]*SpanRecord, error)

	// ListRuns returns workflow root spans, newest first.
	ListRuns(ctx context.Context, q RunQuery) ([]*SpanRecord, error)
}

// SpanRecord is the stored form of one finished span.
type SpanRecord struct {
	ID           string `json:"id" bson:"_id"`
	TraceID      string `json:"trace_id" bson:"trace_id"`
	SpanID       string `json:"span_id" bson:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty" bson:"parent_span_id,omitempty"`
	Name         string `json:"name" bson:"name"`
	Kind         string `json:"kind" bson:"kind"`

	// EntityKind is the traceloop.span.kind attribute (workflow, task, llm)
	EntityKind   string `json:"entity_kind,omitempty" bson:"entity_kind,omitempty"`
	WorkflowName string `json:"workflow_name,omitempty" bson:"workflow_name,omitempty"`
	RunID        string `json:"run_id,omitempty" bson:"run_id,omitempty"`
	ServiceName  string `json:"service_name,omitempty" bson:"service_name,omitempty"`

	StartTime  time.Time `json:"start_time" bson:"start_time"`
	EndTime    time.Time `json:"end_time" bson:"end_time"`
	DurationMs int64     `json:"duration_ms" bson:"duration_ms"`

	StatusCode    string `json:"status_code" bson:"status_code"`
	StatusMessage string `json:"status_message,omitempty" bson:"status_message,omitempty"`

	Attributes map[string]any `json:"attributes,omitempty" bson:"attributes,omitempty"`
}

// Config holds trace store writer configuration
type Config struct {
	// BufferSize is the number of records queued before new ones are dropped
	BufferSize int

	// FlushInterval is how often queued records are written
	FlushInterval time.Duration

	// RetentionDays is how long to keep spans (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 200:
		return 200
	default:
		return limit
	}
}
