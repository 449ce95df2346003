package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite allows at most 999 bound parameters per statement.
const (
	maxSQLiteParams  = 999
	columnsPerSpan   = 16
	maxSpansPerBatch = maxSQLiteParams / columnsPerSpan
)

// Fixed width so lexical order matches time order.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteInsertPrefix = `INSERT OR IGNORE INTO spans (id, trace_id, span_id, parent_span_id, name, kind,
		entity_kind, workflow_name, run_id, service_name, start_time, end_time, duration_ms,
		status_code, status_message, attributes) VALUES `

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates the spans table if needed and starts the retention
// cleanup loop when retentionDays > 0.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS spans (
			id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			entity_kind TEXT NOT NULL DEFAULT '',
			workflow_name TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			service_name TEXT NOT NULL DEFAULT '',
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			status_code TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			attributes JSON
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create spans table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_spans_trace_id ON spans(trace_id)",
		"CREATE INDEX IF NOT EXISTS idx_spans_start_time ON spans(start_time)",
		"CREATE INDEX IF NOT EXISTS idx_spans_workflow ON spans(entity_kind, workflow_name)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, "sqlite", retentionDays, store.deleteBefore)
	}

	return store, nil
}

// WriteBatch inserts records in chunks that fit SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, records []*SpanRecord) error {
	for i := 0; i < len(records); i += maxSpansPerBatch {
		end := min(i+maxSpansPerBatch, len(records))
		chunk := records[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerSpan)

		for j, r := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

			var attrs any
			if data := marshalAttributes(r.Attributes, r.ID); data != nil {
				attrs = string(data)
			}

			values = append(values,
				r.ID,
				r.TraceID,
				r.SpanID,
				r.ParentSpanID,
				r.Name,
				r.Kind,
				r.EntityKind,
				r.WorkflowName,
				r.RunID,
				r.ServiceName,
				r.StartTime.UTC().Format(sqliteTimeFormat),
				r.EndTime.UTC().Format(sqliteTimeFormat),
				r.DurationMs,
				r.StatusCode,
				r.StatusMessage,
				attrs,
			)
		}

		query := sqliteInsertPrefix + strings.Join(placeholders, ",")
		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert span batch %d: %w", i/maxSpansPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	if s.retentionDays > 0 {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

func (s *SQLiteStore) deleteBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM spans WHERE start_time < ?", cutoff.Format(sqliteTimeFormat))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// marshalAttributes returns nil for empty attributes and "{}" when marshaling fails.
func marshalAttributes(attrs map[string]any, id string) []byte {
	if len(attrs) == 0 {
		return nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		slog.Warn("failed to marshal span attributes", "error", err, "id", id)
		return []byte("{}")
	}
	return data
}

func unmarshalAttributes(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		slog.Warn("failed to parse stored span attributes", "error", err)
		return nil
	}
	return attrs
}
