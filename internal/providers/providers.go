// Package providers assembles the model provider chain used by workflows.
package providers

import (
	"fmt"
	"log/slog"
	"time"

	"traceflow/config"
	"traceflow/internal/cache"
	"traceflow/internal/core"
	"traceflow/internal/httpclient"
	"traceflow/internal/providers/anthropic"
)

// Result holds the assembled provider and anything that must be closed with it.
type Result struct {
	Provider core.NamedProvider
	Cache    cache.ResponseCache
}

// Close releases the response cache, if any.
func (r *Result) Close() error {
	if r == nil || r.Cache == nil {
		return nil
	}
	return r.Cache.Close()
}

// New builds anthropic -> optional response cache -> tracing wrapper.
func New(cfg *config.Config) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("providers: config is required")
	}
	if cfg.Anthropic.APIKey == "" {
		slog.Warn("ANTHROPIC_API_KEY is not set; model requests will be rejected upstream")
	}

	base := anthropic.NewWithOptions(anthropic.Options{
		APIKey:     cfg.Anthropic.APIKey,
		BaseURL:    cfg.Anthropic.BaseURL,
		MaxRetries: cfg.Anthropic.MaxRetries,
		HTTPClient: httpclient.NewHTTPClient(httpConfig(cfg)),
	})

	var (
		inner     core.Provider = base
		respCache cache.ResponseCache
	)
	if cfg.Cache.Enabled {
		c, err := newCache(cfg.Cache)
		if err != nil {
			return nil, err
		}
		respCache = c
		inner = cache.NewCachedProvider(base, c)
		slog.Info("response cache enabled", "type", cfg.Cache.Type)
	}

	return &Result{
		Provider: NewTraced(inner, base.Name(), cfg.Tracing.CaptureContent),
		Cache:    respCache,
	}, nil
}

func newCache(cfg config.CacheConfig) (cache.ResponseCache, error) {
	switch cfg.Type {
	case config.CacheRedis:
		c, err := cache.NewRedisCache(cache.RedisConfig{
			URL: cfg.Redis.URL,
			TTL: time.Duration(cfg.Redis.TTL) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis cache: %w", err)
		}
		return c, nil
	case config.CacheLocal, "":
		return cache.NewLocalCache(cfg.Local.Dir), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

func httpConfig(cfg *config.Config) *httpclient.ClientConfig {
	hc := httpclient.DefaultConfig()
	if d, ok := httpclient.ParseDuration(cfg.HTTP.Timeout); ok {
		hc.Timeout = d
	}
	if d, ok := httpclient.ParseDuration(cfg.HTTP.ResponseHeaderTimeout); ok {
		hc.ResponseHeaderTimeout = d
	}
	hc.DisableTracing = !cfg.Tracing.Enabled
	return &hc
}
