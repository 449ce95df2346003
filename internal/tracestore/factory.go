package tracestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"traceflow/config"
	"traceflow/internal/storage"
)

// Result owns the trace store pipeline. The caller must call Close during shutdown,
// after the tracer provider has flushed.
type Result struct {
	Logger   *Logger
	Exporter *Exporter
	Reader   Reader
	Storage  storage.Storage
}

// Close drains the logger and closes the database. Safe to call multiple times.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New opens the configured storage and builds the store, reader, logger and exporter.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	store, err := storage.New(ctx, storage.FromConfig(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	res, err := NewWithStorage(ctx, store, buildLoggerConfig(cfg.Traces))
	if err != nil {
		store.Close()
		return nil, err
	}
	res.Storage = store
	return res, nil
}

// NewWithStorage builds the pipeline on an existing connection, which the caller keeps owning.
func NewWithStorage(ctx context.Context, store storage.Storage, cfg Config) (*Result, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}

	spanStore, reader, err := createStore(ctx, store, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}

	logger := NewLogger(spanStore, cfg)
	return &Result{
		Logger:   logger,
		Exporter: NewExporter(logger),
		Reader:   reader,
	}, nil
}

func createStore(ctx context.Context, store storage.Storage, retentionDays int) (Store, Reader, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		s, err := NewSQLiteStore(store.SQLiteDB(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewSQLiteReader(store.SQLiteDB())
		return s, r, err

	case storage.TypePostgreSQL:
		s, err := NewPostgreSQLStore(ctx, store.PostgreSQLPool(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewPostgreSQLReader(store.PostgreSQLPool())
		return s, r, err

	case storage.TypeMongoDB:
		s, err := NewMongoDBStore(ctx, store.MongoDatabase(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewMongoDBReader(store.MongoDatabase())
		return s, r, err

	default:
		return nil, nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

func buildLoggerConfig(tc config.TracesConfig) Config {
	cfg := DefaultConfig()
	if tc.BufferSize > 0 {
		cfg.BufferSize = tc.BufferSize
	}
	if tc.FlushInterval > 0 {
		cfg.FlushInterval = time.Duration(tc.FlushInterval) * time.Second
	}
	cfg.RetentionDays = tc.RetentionDays
	return cfg
}
