// Package cache stores model responses keyed by request so repeated runs with
// identical input skip the upstream call. Local (file) and Redis backends are
// supported.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"traceflow/internal/core"
)

// ResponseCache defines the interface for response storage.
// Implementations must be safe for concurrent use.
type ResponseCache interface {
	// Get returns the cached response for key, or nil, nil on a miss.
	Get(ctx context.Context, key string) (*core.ChatResponse, error)

	// Set stores resp under key.
	Set(ctx context.Context, key string, resp *core.ChatResponse) error

	// Close releases any resources held by the cache.
	Close() error
}

// Key derives the cache key for req: the hex xxhash64 of its JSON encoding.
func Key(req *core.ChatRequest) (string, error) {
	if req == nil {
		return "", fmt.Errorf("cannot derive cache key from nil request")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request for cache key: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}
