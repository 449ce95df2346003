//go:build contract

package contract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testdataDir = "testdata"

// Anthropic message IDs are "msg_" plus a base62 suffix that changes per call.
var generatedMessageID = regexp.MustCompile(`^msg_[0-9A-Za-z]{20,}$`)

func loadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(testdataDir, path))
	require.NoError(t, err, "read fixture %s", path)
	return data
}

func fixtureExists(path string) bool {
	_, err := os.Stat(filepath.Join(testdataDir, path))
	return err == nil
}

// goldenPath maps "anthropic/messages.json" to "golden/anthropic/messages.golden.json".
func goldenPath(fixture string) string {
	return filepath.Join("golden", strings.TrimSuffix(fixture, filepath.Ext(fixture))+".golden.json")
}

// compareGoldenJSON checks value against its golden file after masking
// generated IDs and timestamps. RECORD=1 rewrites the golden file first.
func compareGoldenJSON(t *testing.T, fixture string, value any) {
	t.Helper()

	raw, err := json.Marshal(value)
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))

	if id, ok := generic["id"].(string); ok && generatedMessageID.MatchString(id) {
		generic["id"] = "msg_<generated>"
	}
	if _, ok := generic["created"]; ok {
		generic["created"] = 0
	}
	actual, err := json.MarshalIndent(generic, "", "  ")
	require.NoError(t, err)

	path := filepath.Join(testdataDir, goldenPath(fixture))
	if os.Getenv("RECORD") == "1" {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, append(actual, '\n'), 0o644))
	}

	expected, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t.Fatalf("missing golden file %s; run RECORD=1 go test -tags=contract ./tests/contract/...", path)
	}
	require.NoError(t, err)
	require.JSONEq(t, string(expected), string(actual), "golden mismatch for %s", path)
}
