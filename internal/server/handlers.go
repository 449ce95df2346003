// Package server exposes the joke workflow and the stored traces over HTTP.
package server

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"traceflow/internal/core"
	"traceflow/internal/joke"
	"traceflow/internal/tracestore"
)

// WorkflowRunner executes one workflow run.
type WorkflowRunner interface {
	GenerateWith(ctx context.Context, o joke.Overrides) (*joke.Run, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	runner WorkflowRunner
	reader tracestore.Reader
}

// NewHandler creates a handler. reader may be nil when spans are not persisted.
func NewHandler(runner WorkflowRunner, reader tracestore.Reader) *Handler {
	return &Handler{
		runner: runner,
		reader: reader,
	}
}

// RunRequest is the optional body of POST /v1/workflows/run.
type RunRequest struct {
	Prompt    string `json:"prompt,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// RunResponse is returned by POST /v1/workflows/run.
type RunResponse struct {
	Workflow string     `json:"workflow"`
	RunID    string     `json:"run_id"`
	TraceID  string     `json:"trace_id,omitempty"`
	Content  string     `json:"content"`
	Model    string     `json:"model"`
	Cached   bool       `json:"cached"`
	Usage    core.Usage `json:"usage"`
}

// TraceResponse is returned by GET /v1/traces/:trace_id.
type TraceResponse struct {
	TraceID string                   `json:"trace_id"`
	Spans   []*tracestore.SpanRecord `json:"spans"`
}

// RunsResponse is returned by GET /v1/workflows/runs.
type RunsResponse struct {
	Runs []*tracestore.SpanRecord `json:"runs"`
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// RunWorkflow handles POST /v1/workflows/run
func (h *Handler) RunWorkflow(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	run, err := h.runner.GenerateWith(c.Request().Context(), joke.Overrides{
		Prompt:    req.Prompt,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, RunResponse{
		Workflow: run.Workflow,
		RunID:    run.RunID,
		TraceID:  run.TraceID,
		Content:  run.Response.Text(),
		Model:    run.Response.Model,
		Cached:   run.Response.Cached,
		Usage:    run.Response.Usage,
	})
}

// GetTrace handles GET /v1/traces/:trace_id
func (h *Handler) GetTrace(c echo.Context) error {
	traceID := c.Param("trace_id")
	if !validTraceID(traceID) {
		return handleError(c, core.NewInvalidRequestError("trace_id must be 32 hex characters", nil))
	}

	spans, err := h.reader.GetTrace(c.Request().Context(), traceID)
	if err != nil {
		return handleError(c, err)
	}
	if len(spans) == 0 {
		return handleError(c, core.NewNotFoundError("trace not found: "+traceID))
	}

	return c.JSON(http.StatusOK, TraceResponse{TraceID: traceID, Spans: spans})
}

// ListRuns handles GET /v1/workflows/runs
func (h *Handler) ListRuns(c echo.Context) error {
	q := tracestore.RunQuery{Workflow: c.QueryParam("workflow")}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return handleError(c, core.NewInvalidRequestError("limit must be a non-negative integer", err))
		}
		q.Limit = limit
	}

	runs, err := h.reader.ListRuns(c.Request().Context(), q)
	if err != nil {
		return handleError(c, err)
	}
	if runs == nil {
		runs = []*tracestore.SpanRecord{}
	}

	return c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

func validTraceID(id string) bool {
	if len(id) != 32 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// handleError converts workflow errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		return c.JSON(apiErr.HTTPStatusCode(), apiErr.ToJSON())
	}

	slog.ErrorContext(c.Request().Context(), "request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
