//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traceflow/internal/server"
	"traceflow/internal/tracestore"
	"traceflow/tests/integration/dbassert"
)

var dbTypes = []string{"postgresql", "mongodb"}

func querySpans(t *testing.T, f *TestServerFixture, traceID string) []dbassert.SpanRow {
	t.Helper()
	switch f.DBType {
	case "postgresql":
		return dbassert.QuerySpansByTraceID(t, f.PgPool, traceID)
	case "mongodb":
		return dbassert.QuerySpansByTraceIDMongo(t, f.MongoDb, traceID)
	default:
		t.Fatalf("unsupported DB type: %s", f.DBType)
		return nil
	}
}

func queryRuns(t *testing.T, f *TestServerFixture, workflow string) []dbassert.SpanRow {
	t.Helper()
	switch f.DBType {
	case "postgresql":
		return dbassert.QueryRunsByWorkflow(t, f.PgPool, workflow)
	case "mongodb":
		return dbassert.QueryRunsByWorkflowMongo(t, f.MongoDb, workflow)
	default:
		t.Fatalf("unsupported DB type: %s", f.DBType)
		return nil
	}
}

func clearSpans(t *testing.T, dbType string) {
	t.Helper()
	switch dbType {
	case "postgresql":
		dbassert.ClearSpans(t, env.pgPool)
	case "mongodb":
		dbassert.ClearSpansMongo(t, env.mongoDB)
	}
}

func TestWorkflowRun_PersistsSpans(t *testing.T) {
	for _, dbType := range dbTypes {
		t.Run(dbType, func(t *testing.T) {
			clearSpans(t, dbType)
			fixture := SetupTestServer(t, TestServerConfig{DBType: dbType})
			defer fixture.Shutdown(t)

			resp, run := runWorkflow(t, fixture.ServerURL, server.RunRequest{}, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Len(t, run.TraceID, 32)
			assert.Contains(t, run.Content, "arr!")
			assert.Equal(t, 35, run.Usage.TotalTokens)

			fixture.FlushAndClose(t)

			spans := querySpans(t, fixture, run.TraceID)
			dbassert.AssertWorkflowRun(t, spans, dbassert.ExpectedRun{
				Workflow:    "pirate_joke_generator",
				RunID:       run.RunID,
				ServiceName: "traceflow-integration",
				StatusCode:  "Ok",
			})

			chat := dbassert.FindSpan(spans, "anthropic.chat")
			require.NotNil(t, chat)
			assert.Equal(t, "claude-3-opus-20240229", chat.Attributes["gen_ai.request.model"])
			assert.Equal(t, "anthropic", chat.Attributes["gen_ai.system"])
			assert.Nil(t, chat.Attributes["gen_ai.prompt.0.content"], "content capture is off by default")
		})
	}
}

func TestWorkflowRun_UpstreamErrorIsRecorded(t *testing.T) {
	for _, dbType := range dbTypes {
		t.Run(dbType, func(t *testing.T) {
			clearSpans(t, dbType)
			fixture := SetupTestServer(t, TestServerConfig{DBType: dbType, WorkflowName: "failing_workflow"})
			defer fixture.Shutdown(t)

			fixture.MockLLM.FailWith.Store(http.StatusBadRequest)

			resp, _ := runWorkflow(t, fixture.ServerURL, server.RunRequest{}, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			fixture.FlushAndClose(t)

			roots := queryRuns(t, fixture, "failing_workflow")
			require.Len(t, roots, 1)
			assert.Equal(t, "Error", roots[0].StatusCode)
			assert.NotEmpty(t, roots[0].RunID)
		})
	}
}

func TestWorkflowRun_ReadEndpoints(t *testing.T) {
	for _, dbType := range dbTypes {
		t.Run(dbType, func(t *testing.T) {
			clearSpans(t, dbType)
			fixture := SetupTestServer(t, TestServerConfig{DBType: dbType, WorkflowName: "read_back"})
			defer fixture.Shutdown(t)

			var traceIDs []string
			for i := 0; i < 3; i++ {
				resp, run := runWorkflow(t, fixture.ServerURL, server.RunRequest{Prompt: fmt.Sprintf("joke %d", i)}, nil)
				require.Equal(t, http.StatusOK, resp.StatusCode)
				traceIDs = append(traceIDs, run.TraceID)
			}

			require.Eventually(t, func() bool {
				var runs server.RunsResponse
				return getJSON(t, fixture.ServerURL+listRunsPath+"?workflow=read_back", &runs) == http.StatusOK &&
					len(runs.Runs) == 3
			}, 10*time.Second, 200*time.Millisecond)

			var runs server.RunsResponse
			require.Equal(t, http.StatusOK, getJSON(t, fixture.ServerURL+listRunsPath+"?workflow=read_back&limit=2", &runs))
			require.Len(t, runs.Runs, 2)
			assert.False(t, runs.Runs[0].StartTime.Before(runs.Runs[1].StartTime), "runs are newest first")

			var trace server.TraceResponse
			require.Equal(t, http.StatusOK, getJSON(t, fixture.ServerURL+tracesPath+traceIDs[0], &trace))
			assert.NotNil(t, findRecord(trace, "read_back.workflow"))
			assert.NotNil(t, findRecord(trace, "anthropic.chat"))

			require.Equal(t, http.StatusNotFound, getJSON(t, fixture.ServerURL+tracesPath+"00000000000000000000000000000001", &trace))
		})
	}
}

func TestWorkflowRun_MasterKey(t *testing.T) {
	fixture := SetupTestServer(t, TestServerConfig{DBType: "postgresql", MasterKey: "integration-secret"})
	defer fixture.Shutdown(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, fixture.ServerURL+healthPath, &health), "health skips auth")

	resp, _ := runWorkflow(t, fixture.ServerURL, server.RunRequest{}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, fixture.MockLLM.Calls())

	resp, run := runWorkflow(t, fixture.ServerURL, server.RunRequest{}, map[string]string{
		"Authorization": "Bearer integration-secret",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, 1, fixture.MockLLM.Calls())
}

func findRecord(trace server.TraceResponse, name string) *tracestore.SpanRecord {
	for _, s := range trace.Spans {
		if s.Name == name {
			return s
		}
	}
	return nil
}
