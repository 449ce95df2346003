package tracestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresInsert = `
	INSERT INTO spans (id, trace_id, span_id, parent_span_id, name, kind, entity_kind,
		workflow_name, run_id, service_name, start_time, end_time, duration_ms,
		status_code, status_message, attributes)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (id) DO NOTHING`

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates the spans table if needed and starts the
// retention cleanup loop when retentionDays > 0.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS spans (
			id UUID PRIMARY KEY,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			entity_kind TEXT NOT NULL DEFAULT '',
			workflow_name TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			service_name TEXT NOT NULL DEFAULT '',
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			status_code TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			attributes JSONB
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create spans table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_spans_trace_id ON spans(trace_id)",
		"CREATE INDEX IF NOT EXISTS idx_spans_start_time ON spans(start_time)",
		"CREATE INDEX IF NOT EXISTS idx_spans_workflow ON spans(entity_kind, workflow_name)",
		"CREATE INDEX IF NOT EXISTS idx_spans_attributes_gin ON spans USING GIN (attributes)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, "postgresql", retentionDays, store.deleteBefore)
	}

	return store, nil
}

// WriteBatch sends all inserts in a single pgx batch round trip.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, records []*SpanRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(postgresInsert,
			r.ID, r.TraceID, r.SpanID, r.ParentSpanID, r.Name, r.Kind, r.EntityKind,
			r.WorkflowName, r.RunID, r.ServiceName, r.StartTime, r.EndTime, r.DurationMs,
			r.StatusCode, r.StatusMessage, marshalAttributes(r.Attributes, r.ID))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	var errs []error
	for _, r := range records {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, fmt.Errorf("insert %s: %w", r.ID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d spans: %w", len(errs), len(records), errors.Join(errs...))
	}
	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *PostgreSQLStore) Close() error {
	if s.retentionDays > 0 {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

func (s *PostgreSQLStore) deleteBefore(cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.pool.Exec(ctx, "DELETE FROM spans WHERE start_time < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
