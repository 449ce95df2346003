// Package contract provides contract tests that validate Messages API response
// structures against recorded fixtures and replay them through the Anthropic
// provider without making actual API calls.
//
// Run with: go test -tags=contract ./tests/contract/...
package contract
