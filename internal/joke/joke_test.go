package joke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"traceflow/config"
	"traceflow/internal/core"
	"traceflow/internal/providers/anthropic"
)

type recordingProvider struct {
	req  *core.ChatRequest
	resp *core.ChatResponse
	err  error
}

func (p *recordingProvider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	p.req = req
	return p.resp, p.err
}

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestGenerate_Defaults(t *testing.T) {
	rec := setupRecorder(t)
	p := &recordingProvider{resp: &core.ChatResponse{Content: "Arr!"}}
	g := New(p, config.Default())

	resp, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Arr!", resp.Content)

	require.NotNil(t, p.req)
	assert.Equal(t, "claude-3-opus-20240229", p.req.Model)
	require.NotNil(t, p.req.MaxTokens)
	assert.Equal(t, 1024, *p.req.MaxTokens)
	require.Len(t, p.req.Messages, 1)
	assert.Equal(t, core.Message{Role: "user", Content: "Tell me a joke about OpenTelemetry"}, p.req.Messages[0])

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pirate_joke_generator.workflow", spans[0].Name())
}

func TestGenerateWith_TraceIDOnlyWhenSampled(t *testing.T) {
	p := &recordingProvider{resp: &core.ChatResponse{Content: "Arr!"}}
	g := New(p, config.Default())

	setupRecorder(t)
	run, err := g.GenerateWith(context.Background(), Overrides{})
	require.NoError(t, err)
	assert.Len(t, run.TraceID, 32)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	run, err = g.GenerateWith(context.Background(), Overrides{})
	require.NoError(t, err)
	assert.Empty(t, run.TraceID)
	assert.NotEmpty(t, run.RunID)
}

func TestGenerateWith_Overrides(t *testing.T) {
	setupRecorder(t)
	p := &recordingProvider{resp: &core.ChatResponse{Content: "ok"}}
	g := New(p, config.Default())

	run, err := g.GenerateWith(context.Background(), Overrides{Prompt: "Tell me a haiku", MaxTokens: 64})
	require.NoError(t, err)

	assert.Equal(t, "pirate_joke_generator", run.Workflow)
	assert.NotEmpty(t, run.RunID)
	assert.Len(t, run.TraceID, 32)
	assert.Equal(t, "ok", run.Response.Content)

	assert.Equal(t, "Tell me a haiku", p.req.Messages[0].Content)
	assert.Equal(t, 64, *p.req.MaxTokens)
	assert.Equal(t, config.DefaultModel, p.req.Model)
}

func TestGenerate_PropagatesError(t *testing.T) {
	setupRecorder(t)
	upstream := core.NewRateLimitError("anthropic", "slow down")
	g := New(&recordingProvider{err: upstream}, config.Default())

	resp, err := g.Generate(context.Background())
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, upstream))
}

func TestGenerateWith_NegativeMaxTokens(t *testing.T) {
	p := &recordingProvider{resp: &core.ChatResponse{}}

	_, err := New(p, config.Default()).GenerateWith(context.Background(), Overrides{MaxTokens: -1})

	var apiErr *core.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, core.ErrorTypeInvalidRequest, apiErr.Type)
	assert.Nil(t, p.req, "provider is not called")
}

func TestGenerate_NoProvider(t *testing.T) {
	_, err := (&Generator{}).Generate(context.Background())
	require.Error(t, err)
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, &core.ChatResponse{Content: "  Why did the pirate trace?\nArr!"}))
	assert.Equal(t, "  Why did the pirate trace?\nArr!\n", buf.String(), "content is printed as returned")
}

// End to end against a fake Messages API: the request body carries exactly the
// configured model, max_tokens and single user message.
func TestGenerate_AgainstFakeMessagesAPI(t *testing.T) {
	setupRecorder(t)

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-opus-20240229",
			"content":[{"type":"text","text":"Why did the OpenTelemetry pirate lose his map? Too many spans, arr!"}],
			"stop_reason":"end_turn","usage":{"input_tokens":14,"output_tokens":19}}`))
	}))
	defer srv.Close()

	p := anthropic.NewWithOptions(anthropic.Options{APIKey: "test", BaseURL: srv.URL})
	resp, err := New(p, config.Default()).Generate(context.Background())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Print(&out, resp))
	assert.Equal(t, "Why did the OpenTelemetry pirate lose his map? Too many spans, arr!\n", out.String())

	assert.Equal(t, map[string]any{
		"model":      "claude-3-opus-20240229",
		"max_tokens": float64(1024),
		"messages":   []any{map[string]any{"role": "user", "content": "Tell me a joke about OpenTelemetry"}},
	}, body)
}
