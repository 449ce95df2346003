package cache

import (
	"context"
	"log/slog"

	"traceflow/internal/core"
	"traceflow/internal/metrics"
)

// CachedProvider serves repeated requests from a ResponseCache.
// Cache failures are logged and fall through to the wrapped provider.
type CachedProvider struct {
	inner core.Provider
	cache ResponseCache
}

// NewCachedProvider wraps p with c.
func NewCachedProvider(p core.Provider, c ResponseCache) *CachedProvider {
	return &CachedProvider{inner: p, cache: c}
}

// ChatCompletion returns a cached response when one exists, otherwise calls
// the wrapped provider and stores the result.
func (p *CachedProvider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	key, err := Key(req)
	if err != nil {
		return p.inner.ChatCompletion(ctx, req)
	}

	cached, err := p.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("response cache lookup failed", "key", key, "error", err)
	}
	if cached != nil {
		metrics.ObserveCacheLookup(true)
		cached.Cached = true
		return cached, nil
	}
	metrics.ObserveCacheLookup(false)

	resp, err := p.inner.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := p.cache.Set(ctx, key, resp); err != nil {
		slog.Warn("response cache store failed", "key", key, "error", err)
	}
	return resp, nil
}

// Name reports the wrapped provider's name when it has one.
func (p *CachedProvider) Name() string {
	if named, ok := p.inner.(core.NamedProvider); ok {
		return named.Name()
	}
	return ""
}

// Close closes the underlying cache.
func (p *CachedProvider) Close() error {
	return p.cache.Close()
}
