//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"traceflow/config"
	"traceflow/internal/app"
	"traceflow/internal/tracing"
)

// TestServerConfig selects the span store and server options for one test.
type TestServerConfig struct {
	// DBType is "postgresql" or "mongodb"
	DBType       string
	WorkflowName string
	// MasterKey enables bearer auth when set
	MasterKey string
}

// TestServerFixture is a running app persisting spans to one backend.
type TestServerFixture struct {
	ServerURL string
	App       *app.App
	MockLLM   *MockLLMServer
	DBType    string

	// Set according to DBType.
	PgPool  *pgxpool.Pool
	MongoDb *mongo.Database

	srv    *httptest.Server
	closed bool
}

// SetupTestServer starts the app behind an httptest server. Spans are exported
// synchronously so they reach the trace writer as soon as they end.
func SetupTestServer(t *testing.T, cfg TestServerConfig) *TestServerFixture {
	t.Helper()

	mock := NewMockLLMServer()
	application, err := app.New(env.ctx, buildAppConfig(t, cfg, mock.URL()), app.WithTracingOptions(tracing.WithSyncer()))
	if err != nil {
		mock.Close()
		require.NoError(t, err, "app.New")
	}

	f := &TestServerFixture{
		App:     application,
		MockLLM: mock,
		DBType:  cfg.DBType,
		srv:     httptest.NewServer(application.Handler()),
	}
	f.ServerURL = f.srv.URL

	switch cfg.DBType {
	case "postgresql":
		f.PgPool = env.pgPool
	case "mongodb":
		f.MongoDb = env.mongoDB
	}
	return f
}

// FlushAndClose shuts the app down so every queued span record is written.
// Call it before asserting on database state.
func (f *TestServerFixture) FlushAndClose(t *testing.T) {
	t.Helper()
	require.NoError(t, f.closeApp(), "app shutdown")
}

// Shutdown releases the fixture. It is safe after FlushAndClose.
func (f *TestServerFixture) Shutdown(t *testing.T) {
	t.Helper()
	f.srv.Close()
	_ = f.closeApp()
	f.MockLLM.Close()
}

func (f *TestServerFixture) closeApp() error {
	if f.closed {
		return nil
	}
	f.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return f.App.Shutdown(ctx)
}

func buildAppConfig(t *testing.T, cfg TestServerConfig, llmURL string) *config.Config {
	t.Helper()

	c := config.Default()
	c.Anthropic.APIKey = "sk-ant-test-key"
	c.Anthropic.BaseURL = llmURL + "/v1"
	c.Server.MasterKey = cfg.MasterKey
	c.Tracing.Exporter = config.ExporterStorage
	c.Tracing.ServiceName = "traceflow-integration"
	c.Traces = config.TracesConfig{BufferSize: 100, FlushInterval: 1}
	if cfg.WorkflowName != "" {
		c.Workflow.Name = cfg.WorkflowName
	}

	switch cfg.DBType {
	case "postgresql":
		c.Storage = config.StorageConfig{
			Type:       "postgresql",
			PostgreSQL: config.PostgreSQLConfig{URL: env.pgURL, MaxConns: 5},
		}
	case "mongodb":
		c.Storage = config.StorageConfig{
			Type:    "mongodb",
			MongoDB: config.MongoDBConfig{URL: env.mongoURL, Database: testDatabase},
		}
	default:
		t.Fatalf("unsupported DB type: %s", cfg.DBType)
	}

	require.NoError(t, c.Validate())
	return c
}

// MockLLMServer is a fake Anthropic Messages API.
type MockLLMServer struct {
	server *httptest.Server
	calls  atomic.Int64

	// FailWith, when non-zero, is returned as the status of every call.
	FailWith atomic.Int64
}

// NewMockLLMServer creates a new fake Messages API server.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		m.calls.Add(1)
		body, _ := io.ReadAll(r.Body)

		if status := int(m.FailWith.Load()); status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"rejected by mock"}}`))
			return
		}
		handleMessages(w, body)
	}))
	return m
}

// URL returns the server URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Calls reports how many Messages API calls were received.
func (m *MockLLMServer) Calls() int {
	return int(m.calls.Load())
}

// Close shuts down the server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

func handleMessages(w http.ResponseWriter, body []byte) {
	var req struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &req)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":    "msg_test_123",
		"type":  "message",
		"role":  "assistant",
		"model": req.Model,
		"content": []map[string]any{
			{"type": "text", "text": "Why did the pirate instrument his ship? To find where the treasure spans went, arr!"},
		},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 14, "output_tokens": 21},
	})
}
