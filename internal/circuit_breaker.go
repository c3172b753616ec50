package internal

import (
	"sync"
	"time"
)

// CircuitBreaker is a lightweight in-memory circuit breaker. The recorder keeps
// one per provider so a failing upstream stops being polled for openDuration.
type CircuitBreaker struct {
	mu           sync.Mutex
	failures     []time.Time
	threshold    int
	window       time.Duration
	openUntil    time.Time
	openDuration time.Duration
	now          func() time.Time
}

// NewCircuitBreaker creates a configured circuit breaker.
func NewCircuitBreaker(threshold int, window, openDuration time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold:    threshold,
		window:       window,
		openDuration: openDuration,
		failures:     make([]time.Time, 0, threshold),
		now:          time.Now,
	}
}

// RecordFailure records a failure and opens the breaker once threshold
// failures fall inside the window.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cutoff := now.Add(-cb.window)
	i := 0
	for ; i < len(cb.failures); i++ {
		if cb.failures[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		cb.failures = append([]time.Time{}, cb.failures[i:]...)
	}
	cb.failures = append(cb.failures, now)

	if len(cb.failures) >= cb.threshold {
		cb.openUntil = now.Add(cb.openDuration)
	}
}

// RecordSuccess resets failure history.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = cb.failures[:0]
	cb.openUntil = time.Time{}
}

// IsOpen returns true if the breaker is currently open.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb == nil {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.now().Before(cb.openUntil)
}

// breakers hands out one breaker per key.
type breakers struct {
	mu        sync.Mutex
	byKey     map[string]*CircuitBreaker
	threshold int
	window    time.Duration
	openFor   time.Duration
}

func newBreakers(threshold int, window, openFor time.Duration) *breakers {
	return &breakers{byKey: make(map[string]*CircuitBreaker), threshold: threshold, window: window, openFor: openFor}
}

func (b *breakers) get(key string) *CircuitBreaker {
	if b == nil || b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.byKey[key]
	if !ok {
		cb = NewCircuitBreaker(b.threshold, b.window, b.openFor)
		b.byKey[key] = cb
	}
	return cb
}
