// Package app wires configuration, tracing, the provider chain and the HTTP
// server together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"traceflow/config"
	"traceflow/internal/joke"
	"traceflow/internal/providers"
	"traceflow/internal/server"
	"traceflow/internal/tracestore"
	"traceflow/internal/tracing"
)

// App represents the main application with all its dependencies.
type App struct {
	config    *config.Config
	tracing   *tracing.Result
	traces    *tracestore.Result
	providers *providers.Result
	generator *joke.Generator
	server    *server.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes New.
type Option func(*options)

type options struct {
	tracing []tracing.Option
}

// WithTracingOptions forwards options to tracing.Init.
func WithTracingOptions(opts ...tracing.Option) Option {
	return func(o *options) { o.tracing = append(o.tracing, opts...) }
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{config: cfg}

	// Spans are persisted only when the storage exporter is selected
	if cfg.Tracing.Enabled && cfg.Tracing.Exporter == config.ExporterStorage {
		traces, err := tracestore.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize trace store: %w", err)
		}
		app.traces = traces
		o.tracing = append(o.tracing, tracing.WithExporter(traces.Exporter))
	}

	tr, err := tracing.Init(ctx, cfg.Tracing, o.tracing...)
	if err != nil {
		return nil, app.abort(fmt.Errorf("failed to initialize tracing: %w", err))
	}
	app.tracing = tr

	prov, err := providers.New(cfg)
	if err != nil {
		return nil, app.abort(fmt.Errorf("failed to initialize providers: %w", err))
	}
	app.providers = prov

	app.generator = joke.New(prov.Provider, cfg)

	var reader tracestore.Reader
	if app.traces != nil {
		reader = app.traces.Reader
	}
	app.server = server.New(app.generator, reader, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
	})

	app.logStartupInfo()
	return app, nil
}

// abort releases whatever New managed to build before failing.
func (a *App) abort(err error) error {
	if closeErr := a.Shutdown(context.Background()); closeErr != nil {
		return fmt.Errorf("%w (also: close error: %v)", err, closeErr)
	}
	return err
}

// Generator returns the workflow generator.
func (a *App) Generator() *joke.Generator {
	return a.generator
}

// Handler returns the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server
}

// RunOnce executes the workflow a single time and prints the reply to w.
func (a *App) RunOnce(ctx context.Context, w io.Writer) error {
	resp, err := a.generator.Generate(ctx)
	if err != nil {
		return err
	}
	return joke.Print(w, resp)
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// HTTP server, provider cache, tracer provider (exports pending spans),
// then the trace store (drains queued records and closes the database).
//
// Shutdown attempts every step and returns the joined errors. Only the first
// call does the work; concurrent callers block until it has finished and all
// callers get its result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.teardown(ctx)
	})
	return a.shutdownErr
}

func (a *App) teardown(ctx context.Context) error {
	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.providers != nil {
		if err := a.providers.Close(); err != nil {
			slog.Error("providers close error", "error", err)
			errs = append(errs, fmt.Errorf("providers close: %w", err))
		}
	}

	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			slog.Error("tracer provider shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}

	if a.traces != nil {
		if err := a.traces.Close(); err != nil {
			slog.Error("trace store close error", "error", err)
			errs = append(errs, fmt.Errorf("trace store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	slog.Debug("application shutdown complete")
	return nil
}

func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Debug("workflow configured",
		"workflow", cfg.Workflow.Name,
		"model", cfg.Anthropic.Model,
		"max_tokens", cfg.Anthropic.MaxTokens,
	)

	if cfg.Tracing.Enabled {
		slog.Debug("tracing enabled",
			"exporter", a.tracing.Exporter(),
			"service_name", cfg.Tracing.ServiceName,
			"sample_ratio", cfg.Tracing.SampleRatio,
			"capture_content", cfg.Tracing.CaptureContent,
		)
	} else {
		slog.Debug("tracing disabled")
	}

	if a.traces != nil {
		slog.Debug("trace store configured",
			"type", cfg.Storage.Type,
			"buffer_size", cfg.Traces.BufferSize,
			"retention_days", cfg.Traces.RetentionDays,
		)
	}
}
