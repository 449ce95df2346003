package tracestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const sqliteSelectColumns = `SELECT id, trace_id, span_id, parent_span_id, name, kind, entity_kind,
	workflow_name, run_id, service_name, start_time, end_time, duration_ms, status_code,
	status_message, attributes FROM spans`

// SQLiteReader implements Reader for SQLite databases.
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader creates a new SQLite span reader.
func NewSQLiteReader(db *sql.DB) (*SQLiteReader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteReader{db: db}, nil
}

func (r *SQLiteReader) GetTrace(ctx context.Context, traceID string) ([]*SpanRecord, error) {
	rows, err := r.db.QueryContext(ctx, sqliteSelectColumns+` WHERE trace_id = ? ORDER BY start_time ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}
	return scanSQLiteRows(rows)
}

func (r *SQLiteReader) ListRuns(ctx context.Context, q RunQuery) ([]*SpanRecord, error) {
	query := sqliteSelectColumns + ` WHERE entity_kind = 'workflow'`
	var args []any
	if q.Workflow != "" {
		query += ` AND workflow_name = ?`
		args = append(args, q.Workflow)
	}
	query += ` ORDER BY start_time DESC LIMIT ?`
	args = append(args, clampLimit(q.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow runs: %w", err)
	}
	return scanSQLiteRows(rows)
}

func scanSQLiteRows(rows *sql.Rows) ([]*SpanRecord, error) {
	defer rows.Close()

	out := make([]*SpanRecord, 0)
	for rows.Next() {
		var (
			rec        SpanRecord
			start, end string
			attrs      sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TraceID, &rec.SpanID, &rec.ParentSpanID, &rec.Name, &rec.Kind,
			&rec.EntityKind, &rec.WorkflowName, &rec.RunID, &rec.ServiceName, &start, &end,
			&rec.DurationMs, &rec.StatusCode, &rec.StatusMessage, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan span row: %w", err)
		}
		rec.StartTime, _ = time.Parse(time.RFC3339Nano, start)
		rec.EndTime, _ = time.Parse(time.RFC3339Nano, end)
		if attrs.Valid {
			rec.Attributes = unmarshalAttributes([]byte(attrs.String))
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate span rows: %w", err)
	}
	return out, nil
}
