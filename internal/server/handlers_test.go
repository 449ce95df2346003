package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traceflow/internal/core"
	"traceflow/internal/joke"
	"traceflow/internal/tracestore"
)

type mockRunner struct {
	got joke.Overrides
	run *joke.Run
	err error
}

func (m *mockRunner) GenerateWith(_ context.Context, o joke.Overrides) (*joke.Run, error) {
	m.got = o
	return m.run, m.err
}

type mockReader struct {
	spans []*tracestore.SpanRecord
	query tracestore.RunQuery
	err   error
}

func (m *mockReader) GetTrace(_ context.Context, traceID string) ([]*tracestore.SpanRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*tracestore.SpanRecord
	for _, s := range m.spans {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockReader) ListRuns(_ context.Context, q tracestore.RunQuery) ([]*tracestore.SpanRecord, error) {
	m.query = q
	if m.err != nil {
		return nil, m.err
	}
	return m.spans, nil
}

const testTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

func newRun() *joke.Run {
	return &joke.Run{
		Workflow: "pirate_joke_generator",
		RunID:    "3f0c7a52-0000-4000-8000-000000000001",
		TraceID:  testTraceID,
		Response: &core.ChatResponse{
			Model:   "claude-3-opus-20240229",
			Content: " Arr! \n",
			Usage:   core.Usage{InputTokens: 14, OutputTokens: 19, TotalTokens: 33},
		},
	}
}

func TestHealth(t *testing.T) {
	srv := New(&mockRunner{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRunWorkflow(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expectedModel string
		expectedMax   int
	}{
		{name: "empty body uses defaults"},
		{name: "empty object uses defaults", body: `{}`},
		{
			name:          "overrides are forwarded",
			body:          `{"prompt":"Tell me a haiku","model":"claude-3-haiku-20240307","max_tokens":64}`,
			expectedModel: "claude-3-haiku-20240307",
			expectedMax:   64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{run: newRun()}
			srv := New(runner, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/v1/workflows/run", strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.expectedModel, runner.got.Model)
			assert.Equal(t, tt.expectedMax, runner.got.MaxTokens)

			var resp RunResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "pirate_joke_generator", resp.Workflow)
			assert.Equal(t, testTraceID, resp.TraceID)
			assert.Equal(t, "Arr!", resp.Content)
			assert.Equal(t, 33, resp.Usage.TotalTokens)
		})
	}
}

func TestRunWorkflow_Errors(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		err            error
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "malformed body",
			body:           `{"prompt":`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_request_error",
		},
		{
			name:           "rate limited upstream",
			body:           `{}`,
			err:            core.NewRateLimitError("anthropic", "slow down"),
			expectedStatus: http.StatusTooManyRequests,
			expectedType:   "rate_limit_error",
		},
		{
			name:           "unexpected error",
			body:           `{}`,
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedType:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(&mockRunner{err: tt.err}, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/v1/workflows/run", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			var body struct {
				Error struct {
					Type string `json:"type"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedType, body.Error.Type)
		})
	}
}

func TestGetTrace(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &mockReader{spans: []*tracestore.SpanRecord{
		{ID: "1", TraceID: testTraceID, SpanID: "00f067aa0ba902b7", Name: "pirate_joke_generator.workflow", StartTime: start},
		{ID: "2", TraceID: testTraceID, SpanID: "00f067aa0ba902b8", ParentSpanID: "00f067aa0ba902b7", Name: "anthropic.chat", StartTime: start},
	}}
	srv := New(&mockRunner{}, reader, nil)

	tests := []struct {
		name           string
		traceID        string
		expectedStatus int
		expectedSpans  int
	}{
		{name: "found", traceID: testTraceID, expectedStatus: http.StatusOK, expectedSpans: 2},
		{name: "unknown trace", traceID: "00000000000000000000000000000001", expectedStatus: http.StatusNotFound},
		{name: "malformed id", traceID: "not-a-trace", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/traces/"+tt.traceID, nil)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var resp TraceResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.traceID, resp.TraceID)
			assert.Len(t, resp.Spans, tt.expectedSpans)
		})
	}
}

func TestListRuns(t *testing.T) {
	t.Run("passes filter and limit", func(t *testing.T) {
		reader := &mockReader{spans: []*tracestore.SpanRecord{{ID: "1", TraceID: testTraceID, WorkflowName: "pirate_joke_generator"}}}
		srv := New(&mockRunner{}, reader, nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/workflows/runs?workflow=pirate_joke_generator&limit=5", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tracestore.RunQuery{Workflow: "pirate_joke_generator", Limit: 5}, reader.query)

		var resp RunsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Runs, 1)
		assert.Equal(t, "pirate_joke_generator", resp.Runs[0].WorkflowName)
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		srv := New(&mockRunner{}, &mockReader{}, nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/workflows/runs", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
	})

	t.Run("invalid limit", func(t *testing.T) {
		srv := New(&mockRunner{}, &mockReader{}, nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/workflows/runs?limit=abc", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reader failure", func(t *testing.T) {
		srv := New(&mockRunner{}, &mockReader{err: errors.New("db down")}, nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/workflows/runs", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
