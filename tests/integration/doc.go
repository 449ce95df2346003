// Package integration runs the traceflow app against PostgreSQL and MongoDB
// span stores started with testcontainers-go, then checks what was persisted.
//
//	go test -tags=integration ./tests/integration/...
package integration
