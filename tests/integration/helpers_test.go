//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"traceflow/internal/server"
)

// API endpoints
const (
	runWorkflowPath = "/v1/workflows/run"
	listRunsPath    = "/v1/workflows/runs"
	tracesPath      = "/v1/traces/"
	healthPath      = "/health"
)

// runWorkflow triggers one workflow run and decodes the response.
func runWorkflow(t *testing.T, serverURL string, payload server.RunRequest, headers map[string]string) (*http.Response, server.RunResponse) {
	t.Helper()

	resp := sendJSONRequest(t, serverURL+runWorkflowPath, payload, headers)
	defer closeBody(resp)

	var out server.RunResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out), "failed to decode run response")
	}
	return resp, out
}

// sendJSONRequest sends a JSON POST request and returns the response.
func sendJSONRequest(t *testing.T, url string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err, "failed to marshal request payload")

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err, "failed to create request")

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "failed to send request")

	return resp
}

// getJSON performs a GET and decodes a 200 response into out.
func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err, "failed to send request")
	defer closeBody(resp)

	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "failed to decode response")
	}
	return resp.StatusCode
}

// closeBody is a helper to close response body in defer statements.
func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
