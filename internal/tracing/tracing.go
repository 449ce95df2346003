// Package tracing owns the OpenTelemetry tracer provider for the process.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"traceflow/config"
	"traceflow/internal/version"
)

// InstrumentationName names the tracer used by traceflow's own spans.
const InstrumentationName = "traceflow"

// Result holds the initialized tracer provider. Call Shutdown on exit.
type Result struct {
	Provider trace.TracerProvider

	sdk      *sdktrace.TracerProvider
	exporter string
	once     sync.Once
	err      error
}

// Exporter reports which exporter is active ("none" when tracing is disabled).
func (r *Result) Exporter() string {
	return r.exporter
}

// Shutdown flushes pending spans and stops the provider. Safe to call more than once.
func (r *Result) Shutdown(ctx context.Context) error {
	if r == nil || r.sdk == nil {
		return nil
	}
	r.once.Do(func() {
		r.err = r.sdk.Shutdown(ctx)
	})
	return r.err
}

// ForceFlush exports all finished spans without stopping the provider.
func (r *Result) ForceFlush(ctx context.Context) error {
	if r == nil || r.sdk == nil {
		return nil
	}
	return r.sdk.ForceFlush(ctx)
}

type options struct {
	exporter sdktrace.SpanExporter
	syncer   bool
	writer   io.Writer
	global   bool
}

// Option customizes Init.
type Option func(*options)

// WithExporter replaces the exporter named in the config.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithSyncer exports spans synchronously as they end instead of batching.
func WithSyncer() Option {
	return func(o *options) { o.syncer = true }
}

// WithWriter sets the destination of the stdout exporter (default os.Stderr).
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithoutGlobal skips registering the provider and propagator globally.
func WithoutGlobal() Option {
	return func(o *options) { o.global = false }
}

// Init builds and registers the tracer provider described by cfg.
//
// The storage exporter lives outside this package, so exporter "storage"
// requires WithExporter.
func Init(ctx context.Context, cfg config.TracingConfig, opts ...Option) (*Result, error) {
	o := options{writer: os.Stderr, global: true}
	for _, opt := range opts {
		opt(&o)
	}

	if !cfg.Enabled || (cfg.Exporter == config.ExporterNone && o.exporter == nil) {
		res := &Result{Provider: noop.NewTracerProvider(), exporter: config.ExporterNone}
		if o.global {
			otel.SetTracerProvider(res.Provider)
		}
		return res, nil
	}

	exp := o.exporter
	name := cfg.Exporter
	if exp == nil {
		var err error
		exp, err = newExporter(cfg.Exporter, o.writer)
		if err != nil {
			return nil, err
		}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName(cfg)),
			attribute.String("service.version", version.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracing resource: %w", err)
	}

	ratio := cfg.SampleRatio

	var processor sdktrace.SpanProcessor
	if o.syncer {
		processor = sdktrace.NewSimpleSpanProcessor(exp)
	} else {
		processor = sdktrace.NewBatchSpanProcessor(exp)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithSpanProcessor(processor),
	)

	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	slog.Debug("tracing initialized", "exporter", name, "sample_ratio", ratio)

	return &Result{Provider: tp, sdk: tp, exporter: name}, nil
}

func newExporter(name string, w io.Writer) (sdktrace.SpanExporter, error) {
	switch name {
	case config.ExporterStdout, "":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	case config.ExporterStorage:
		return nil, errors.New("storage exporter must be supplied with WithExporter")
	default:
		return nil, fmt.Errorf("unknown tracing exporter: %s", name)
	}
}

func serviceName(cfg config.TracingConfig) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return config.DefaultServiceName
}

// Tracer returns traceflow's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
