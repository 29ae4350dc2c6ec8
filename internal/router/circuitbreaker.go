package router

import (
	"sync"
	"time"
)

// cbState mirrors the teacher's internal/proxy circuit breaker state
// machine, re-keyed here by catalog model id instead of provider name so
// two models served by the same provider trip independently — matching
// spec.md §4.4.1's per-candidate probing.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

// CBConfig holds circuit breaker tuning parameters.
type CBConfig struct {
	ErrorThreshold  int
	TimeWindow      time.Duration
	HalfOpenTimeout time.Duration
}

func (c CBConfig) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return 5
}

func (c CBConfig) timeWindow() time.Duration {
	if c.TimeWindow > 0 {
		return c.TimeWindow
	}
	return 60 * time.Second
}

func (c CBConfig) halfOpenTimeout() time.Duration {
	if c.HalfOpenTimeout > 0 {
		return c.HalfOpenTimeout
	}
	return 30 * time.Second
}

type modelCB struct {
	mu sync.Mutex

	state         cbState
	errorCount    int
	windowStart   time.Time
	openedAt      time.Time
	probeInflight bool
}

// CircuitBreaker is an optional layer a deployment may wrap the router's
// per-request health probing with, per spec.md §4.4.1's note that "the
// deployment may wrap the adapter with a circuit breaker." It is not
// consulted by the core's per-request candidate loop by default — see
// Router.WithCircuitBreaker.
type CircuitBreaker struct {
	mu       sync.RWMutex
	breakers map[string]*modelCB
	cfg      CBConfig
}

// NewCircuitBreaker creates a CircuitBreaker with the given config.
func NewCircuitBreaker(cfg CBConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, breakers: make(map[string]*modelCB)}
}

func (cb *CircuitBreaker) get(modelID string) *modelCB {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	m, ok := cb.breakers[modelID]
	if !ok {
		m = &modelCB{state: cbClosed, windowStart: time.Now()}
		cb.breakers[modelID] = m
	}
	return m
}

// Allow reports whether modelID should be attempted next.
func (cb *CircuitBreaker) Allow(modelID string) bool {
	m := cb.get(modelID)
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case cbClosed:
		return true
	case cbOpen:
		if time.Since(m.openedAt) >= cb.cfg.halfOpenTimeout() {
			m.state = cbHalfOpen
			m.probeInflight = true
			return true
		}
		return false
	case cbHalfOpen:
		if m.probeInflight {
			return false
		}
		m.probeInflight = true
		return true
	}
	return true
}

// RecordSuccess resets modelID's breaker to Closed.
func (cb *CircuitBreaker) RecordSuccess(modelID string) {
	m := cb.get(modelID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = cbClosed
	m.errorCount = 0
	m.probeInflight = false
	m.windowStart = time.Now()
}

// RecordFailure increments modelID's error counter, opening the breaker once
// the threshold is reached within the rolling window.
func (cb *CircuitBreaker) RecordFailure(modelID string) {
	m := cb.get(modelID)
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if now.Sub(m.windowStart) > cb.cfg.timeWindow() {
		m.errorCount = 0
		m.windowStart = now
	}
	m.errorCount++
	m.probeInflight = false

	if m.errorCount >= cb.cfg.errorThreshold() {
		m.state = cbOpen
		m.openedAt = now
	}
}

// State returns the current state label for modelID: "closed" | "open" | "half_open".
func (cb *CircuitBreaker) State(modelID string) string {
	m := cb.get(modelID)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
