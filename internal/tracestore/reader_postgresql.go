package tracestore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSelectColumns = `SELECT id::text, trace_id, span_id, parent_span_id, name, kind, entity_kind,
	workflow_name, run_id, service_name, start_time, end_time, duration_ms, status_code,
	status_message, attributes FROM spans`

// PostgreSQLReader implements Reader for PostgreSQL databases.
type PostgreSQLReader struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLReader creates a new PostgreSQL span reader.
func NewPostgreSQLReader(pool *pgxpool.Pool) (*PostgreSQLReader, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLReader{pool: pool}, nil
}

func (r *PostgreSQLReader) GetTrace(ctx context.Context, traceID string) ([]*SpanRecord, error) {
	rows, err := r.pool.Query(ctx, postgresSelectColumns+` WHERE trace_id = $1 ORDER BY start_time ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}
	return scanPostgresRows(rows)
}

func (r *PostgreSQLReader) ListRuns(ctx context.Context, q RunQuery) ([]*SpanRecord, error) {
	query := postgresSelectColumns + ` WHERE entity_kind = 'workflow'`
	args := []any{}
	if q.Workflow != "" {
		args = append(args, q.Workflow)
		query += fmt.Sprintf(` AND workflow_name = $%d`, len(args))
	}
	args = append(args, clampLimit(q.Limit))
	query += fmt.Sprintf(` ORDER BY start_time DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow runs: %w", err)
	}
	return scanPostgresRows(rows)
}

func scanPostgresRows(rows pgx.Rows) ([]*SpanRecord, error) {
	defer rows.Close()

	out := make([]*SpanRecord, 0)
	for rows.Next() {
		var (
			rec   SpanRecord
			attrs []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TraceID, &rec.SpanID, &rec.ParentSpanID, &rec.Name, &rec.Kind,
			&rec.EntityKind, &rec.WorkflowName, &rec.RunID, &rec.ServiceName, &rec.StartTime, &rec.EndTime,
			&rec.DurationMs, &rec.StatusCode, &rec.StatusMessage, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan span row: %w", err)
		}
		rec.Attributes = unmarshalAttributes(attrs)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate span rows: %w", err)
	}
	return out, nil
}
