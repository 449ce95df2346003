package core

import "context"

type contextKey string

const (
	runIDKey        contextKey = "run-id"
	workflowNameKey contextKey = "workflow-name"
)

// WithRunID returns a new context carrying the workflow run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID retrieves the run ID from the context, or "" if absent.
func GetRunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// WithWorkflowName returns a new context carrying the enclosing workflow name.
func WithWorkflowName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workflowNameKey, name)
}

// GetWorkflowName retrieves the enclosing workflow name, or "" outside a workflow.
func GetWorkflowName(ctx context.Context) string {
	if v, ok := ctx.Value(workflowNameKey).(string); ok {
		return v
	}
	return ""
}
