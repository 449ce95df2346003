package core

import "context"

// Provider sends chat requests to a hosted model
type Provider interface {
	// ChatCompletion executes a single blocking model request
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// NamedProvider is implemented by providers that can report their name for
// trace attributes and metrics labels.
type NamedProvider interface {
	Provider
	Name() string
}
