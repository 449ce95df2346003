//go:build integration

package dbassert

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SpanRow mirrors tracestore.SpanRecord for test assertions.
type SpanRow struct {
	ID           string         `bson:"_id"`
	TraceID      string         `bson:"trace_id"`
	SpanID       string         `bson:"span_id"`
	ParentSpanID string         `bson:"parent_span_id"`
	Name         string         `bson:"name"`
	Kind         string         `bson:"kind"`
	EntityKind   string         `bson:"entity_kind"`
	WorkflowName string         `bson:"workflow_name"`
	RunID        string         `bson:"run_id"`
	ServiceName  string         `bson:"service_name"`
	StartTime    time.Time      `bson:"start_time"`
	EndTime      time.Time      `bson:"end_time"`
	StatusCode   string         `bson:"status_code"`
	Attributes   map[string]any `bson:"attributes"`
}

// ExpectedRun contains expected values for a stored workflow run.
// Zero values are not checked.
type ExpectedRun struct {
	Workflow    string
	RunID       string
	ServiceName string
	StatusCode  string
}

// QuerySpansByTraceID returns the spans of one trace from PostgreSQL, oldest first.
func QuerySpansByTraceID(t *testing.T, pool *pgxpool.Pool, traceID string) []SpanRow {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := `
		SELECT id::text, trace_id, span_id, parent_span_id, name, kind, entity_kind,
		       workflow_name, run_id, service_name, start_time, end_time, status_code, attributes
		FROM spans
		WHERE trace_id = $1
		ORDER BY start_time ASC
	`

	rows, err := pool.Query(ctx, query, traceID)
	require.NoError(t, err, "failed to query spans")
	defer rows.Close()

	var spans []SpanRow
	for rows.Next() {
		var s SpanRow
		var attrsJSON []byte
		err := rows.Scan(
			&s.ID, &s.TraceID, &s.SpanID, &s.ParentSpanID, &s.Name, &s.Kind, &s.EntityKind,
			&s.WorkflowName, &s.RunID, &s.ServiceName, &s.StartTime, &s.EndTime, &s.StatusCode, &attrsJSON,
		)
		require.NoError(t, err, "failed to scan span row")
		if attrsJSON != nil {
			require.NoError(t, json.Unmarshal(attrsJSON, &s.Attributes), "failed to unmarshal attributes")
		}
		spans = append(spans, s)
	}
	require.NoError(t, rows.Err(), "error iterating span rows")

	return spans
}

// QuerySpansByTraceIDMongo returns the spans of one trace from MongoDB, oldest first.
func QuerySpansByTraceIDMongo(t *testing.T, db *mongo.Database, traceID string) []SpanRow {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := db.Collection("spans").Find(ctx,
		bson.M{"trace_id": traceID},
		options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}}),
	)
	require.NoError(t, err, "failed to query spans from MongoDB")
	defer cursor.Close(ctx)

	var spans []SpanRow
	require.NoError(t, cursor.All(ctx, &spans), "failed to decode span documents")
	return spans
}

// QueryRunsByWorkflow returns the workflow root spans for one workflow from PostgreSQL.
func QueryRunsByWorkflow(t *testing.T, pool *pgxpool.Pool, workflow string) []SpanRow {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, `
		SELECT id::text, trace_id, span_id, name, entity_kind, workflow_name, run_id, status_code
		FROM spans
		WHERE entity_kind = 'workflow' AND workflow_name = $1
		ORDER BY start_time DESC
	`, workflow)
	require.NoError(t, err, "failed to query workflow runs")
	defer rows.Close()

	var spans []SpanRow
	for rows.Next() {
		var s SpanRow
		err := rows.Scan(&s.ID, &s.TraceID, &s.SpanID, &s.Name, &s.EntityKind, &s.WorkflowName, &s.RunID, &s.StatusCode)
		require.NoError(t, err, "failed to scan run row")
		spans = append(spans, s)
	}
	require.NoError(t, rows.Err(), "error iterating run rows")

	return spans
}

// QueryRunsByWorkflowMongo returns the workflow root spans for one workflow from MongoDB.
func QueryRunsByWorkflowMongo(t *testing.T, db *mongo.Database, workflow string) []SpanRow {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := db.Collection("spans").Find(ctx,
		bson.M{"entity_kind": "workflow", "workflow_name": workflow},
		options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}}),
	)
	require.NoError(t, err, "failed to query workflow runs from MongoDB")
	defer cursor.Close(ctx)

	var spans []SpanRow
	require.NoError(t, cursor.All(ctx, &spans), "failed to decode run documents")
	return spans
}

// ClearSpans deletes all spans from PostgreSQL. A missing table is not an error.
func ClearSpans(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var exists bool
	err := pool.QueryRow(ctx, "SELECT to_regclass('spans') IS NOT NULL").Scan(&exists)
	require.NoError(t, err, "failed to check spans table")
	if !exists {
		return
	}

	_, err = pool.Exec(ctx, "DELETE FROM spans")
	require.NoError(t, err, "failed to clear spans")
}

// ClearSpansMongo deletes all spans from MongoDB.
func ClearSpansMongo(t *testing.T, db *mongo.Database) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := db.Collection("spans").DeleteMany(ctx, bson.M{})
	require.NoError(t, err, "failed to clear spans from MongoDB")
}

// FindSpan returns the first span with the given name, or nil.
func FindSpan(spans []SpanRow, name string) *SpanRow {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

// AssertSpanFieldCompleteness verifies that every span carries its identifying fields.
func AssertSpanFieldCompleteness(t *testing.T, s SpanRow) {
	t.Helper()

	assert.NotEmpty(t, s.ID, "span ID should not be empty")
	assert.Len(t, s.TraceID, 32, "trace ID should be 32 hex characters")
	assert.Len(t, s.SpanID, 16, "span ID should be 16 hex characters")
	assert.NotEmpty(t, s.Name, "span name should not be empty")
	assert.False(t, s.StartTime.IsZero(), "start time should not be zero")
	assert.False(t, s.EndTime.Before(s.StartTime), "end time should not precede start time")
}

// AssertWorkflowRun verifies the workflow root span and that the model call
// span is its child.
func AssertWorkflowRun(t *testing.T, spans []SpanRow, expected ExpectedRun) {
	t.Helper()

	for _, s := range spans {
		AssertSpanFieldCompleteness(t, s)
	}

	root := FindSpan(spans, expected.Workflow+".workflow")
	require.NotNil(t, root, "workflow span %q not stored", expected.Workflow+".workflow")
	assert.Equal(t, "workflow", root.EntityKind)
	assert.Equal(t, expected.Workflow, root.WorkflowName)
	if expected.RunID != "" {
		assert.Equal(t, expected.RunID, root.RunID)
	}
	if expected.ServiceName != "" {
		assert.Equal(t, expected.ServiceName, root.ServiceName)
	}
	if expected.StatusCode != "" {
		assert.Equal(t, expected.StatusCode, root.StatusCode)
	}

	chat := FindSpan(spans, "anthropic.chat")
	require.NotNil(t, chat, "model call span not stored")
	assert.Equal(t, root.SpanID, chat.ParentSpanID)
	assert.Equal(t, expected.Workflow, chat.WorkflowName)
	assert.Equal(t, root.RunID, chat.RunID)
}
