package tracestore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"traceflow/internal/metrics"
)

// EntityKindWorkflow marks the root span of a workflow run.
const EntityKindWorkflow = "workflow"

// Logger collects span records and writes them to a Store from a single
// background goroutine.
//
// Records are written every FlushInterval, as soon as BatchFlushThreshold are
// pending, or immediately when a workflow root span arrives: the root ends
// after all of its children, so at that point the whole run is queued and
// readers should be able to see it.
type Logger struct {
	store  Store
	config Config

	mu      sync.Mutex
	pending []*SpanRecord
	closed  bool

	kick chan struct{}
	done chan struct{}
	loop sync.WaitGroup
}

// NewLogger starts the writer goroutine for store.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:  store,
		config: cfg,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	l.loop.Add(1)
	go l.run()
	return l
}

// Config returns the effective configuration, defaults applied.
func (l *Logger) Config() Config {
	return l.config
}

// Write queues rec without blocking on the store. Once BufferSize records are
// pending, further records are dropped and counted until the writer catches
// up. Records written after Close are ignored.
func (l *Logger) Write(rec *SpanRecord) {
	if rec == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if len(l.pending) >= l.config.BufferSize {
		l.mu.Unlock()
		metrics.TraceRecordsDroppedTotal.Inc()
		slog.Warn("trace buffer full, dropping span", "trace_id", rec.TraceID, "span", rec.Name)
		return
	}
	l.pending = append(l.pending, rec)
	urgent := rec.EntityKind == EntityKindWorkflow || len(l.pending) >= BatchFlushThreshold
	l.mu.Unlock()

	if urgent {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
}

// Close writes everything still pending, flushes and closes the store.
// Subsequent calls return nil.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.loop.Wait()
	return l.store.Close()
}

func (l *Logger) run() {
	defer l.loop.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.kick:
			l.writePending()
		case <-ticker.C:
			l.writePending()
		case <-l.done:
			l.writePending()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush trace store", "error", err)
			}
			cancel()
			return
		}
	}
}

// writePending hands the pending records to the store in one batch.
func (l *Logger) writePending() {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write span batch", "error", err, "count", len(batch))
	}
}
