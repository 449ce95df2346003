package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"traceflow/internal/core"
)

// LocalCache implements ResponseCache with one JSON file per key under a directory.
// This is suitable for single-instance deployments and CLI runs.
type LocalCache struct {
	mu  sync.RWMutex
	dir string
}

// NewLocalCache creates a new file-based cache rooted at dir.
func NewLocalCache(dir string) *LocalCache {
	return &LocalCache{dir: dir}
}

func (c *LocalCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get reads the response stored under key.
func (c *LocalCache) Get(_ context.Context, key string) (*core.ChatResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.dir == "" || key == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var resp core.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}
	return &resp, nil
}

// Set writes resp under key.
func (c *LocalCache) Set(_ context.Context, key string, resp *core.ChatResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dir == "" || key == "" || resp == nil {
		return nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	// temp file + rename keeps readers from seeing partial writes
	target := c.path(key)
	tmpFile := target + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, target); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

// Close is a no-op for local cache.
func (c *LocalCache) Close() error {
	return nil
}
