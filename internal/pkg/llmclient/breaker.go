package llmclient

import (
	"log/slog"
	"sync"
	"time"

	"traceflow/internal/metrics"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// circuitBreaker stops calling a provider after FailureThreshold consecutive
// failures and lets a trial request through once Timeout has passed. SuccessThreshold
// successful trial requests close it again; a failed one reopens it.
type circuitBreaker struct {
	provider string
	cfg      CircuitBreakerConfig

	mu        sync.Mutex
	state     circuitState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

func newCircuitBreaker(provider string, cfg CircuitBreakerConfig) *circuitBreaker {
	cb := &circuitBreaker{provider: provider, cfg: cfg, now: time.Now}
	metrics.SetCircuitState(provider, int(circuitClosed))
	return cb
}

// Allow reports whether a request may be sent now.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != circuitOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) <= cb.cfg.Timeout {
		return false
	}
	cb.moveTo(circuitHalfOpen)
	return true
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != circuitHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.cfg.SuccessThreshold {
		cb.moveTo(circuitClosed)
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch {
	case cb.state == circuitHalfOpen:
		cb.moveTo(circuitOpen)
	case cb.state == circuitClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.moveTo(circuitOpen)
	}
}

// State returns the current state name.
func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// moveTo must be called with mu held.
func (cb *circuitBreaker) moveTo(next circuitState) {
	if next == cb.state {
		return
	}
	prev := cb.state
	cb.state = next
	cb.successes = 0
	if next == circuitOpen {
		cb.openedAt = cb.now()
	}
	if next == circuitClosed {
		cb.failures = 0
	}

	metrics.SetCircuitState(cb.provider, int(next))
	slog.Info("circuit breaker state changed",
		"provider", cb.provider,
		"from", prev.String(),
		"to", next.String(),
	)
}
