//go:build contract

package contract

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"testing"

	"traceflow/internal/core"
	"traceflow/internal/providers/anthropic"
)

const replayBaseURL = "https://replay.local/v1"

type replayRoute struct {
	statusCode  int
	contentType string
	body        []byte
}

type replayTransport struct {
	t      *testing.T
	routes map[string]replayRoute
	// bodies records request payloads by route key
	bodies map[string][]byte
}

func replayKey(method, requestURI string) string {
	return method + " " + requestURI
}

func (rt *replayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.t.Helper()

	key := replayKey(req.Method, req.URL.RequestURI())
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		rt.bodies[key] = body
	}

	route, ok := rt.routes[key]
	if !ok {
		notFoundBody := []byte(fmt.Sprintf(`{"type":"error","error":{"type":"not_found_error","message":"missing replay route: %s"}}`, key))
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Status:     "404 Not Found",
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(bytes.NewReader(notFoundBody)),
			Request:    req,
		}, nil
	}

	statusCode := route.statusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	contentType := route.contentType
	if contentType == "" {
		contentType = "application/json"
	}

	return &http.Response{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(bytes.NewReader(route.body)),
		Request:    req,
	}, nil
}

func jsonFixtureRoute(t *testing.T, statusCode int, path string) replayRoute {
	t.Helper()
	return replayRoute{
		statusCode:  statusCode,
		contentType: "application/json",
		body:        loadFixture(t, path),
	}
}

// newAnthropicReplayProvider returns a provider whose HTTP calls are answered
// from routes. Retries are disabled so error fixtures surface immediately.
func newAnthropicReplayProvider(t *testing.T, routes map[string]replayRoute) (core.NamedProvider, *replayTransport) {
	t.Helper()

	rt := &replayTransport{t: t, routes: routes, bodies: map[string][]byte{}}
	noRetries := 0
	p := anthropic.NewWithOptions(anthropic.Options{
		APIKey:     "sk-ant-replay",
		BaseURL:    replayBaseURL,
		MaxRetries: &noRetries,
		HTTPClient: &http.Client{Transport: rt},
	})
	return p, rt
}
