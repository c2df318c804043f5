// Package protection holds the gates that shed load: a per-endpoint
// circuit breaker on the consumer side and a per-caller token bucket on
// the provider side.
package protection

import (
	"sync/atomic"
	"time"

	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/sasha-s/go-deadlock"
)

// CircuitBreaker has two states. It opens once the error count exceeds
// maxErrors or the error rate exceeds maxErrorRate, and a timer closes it
// again after the cool-down. There is no half-open trial phase.
type CircuitBreaker struct {
	open         int32
	requests     int64
	errors       int64
	maxErrors    int64
	maxErrorRate float64
	cooldown     time.Duration

	lock  deadlock.Mutex
	timer *time.Timer
}

func NewCircuitBreaker(maxErrors int, maxErrorRate float64, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxErrors:    int64(maxErrors),
		maxErrorRate: maxErrorRate,
		cooldown:     cooldown,
	}
}

// RecordRequest counts one attempt
func (b *CircuitBreaker) RecordRequest() {
	atomic.AddInt64(&b.requests, 1)
}

// RecordSuccess counts an attempt that did not fail. Each attempt is
// recorded once, as a success or as a failure.
func (b *CircuitBreaker) RecordSuccess() {
	b.RecordRequest()
}

// RecordFailure counts a failed attempt
func (b *CircuitBreaker) RecordFailure() {
	b.RecordRequest()
	atomic.AddInt64(&b.errors, 1)
}

// IsOpen evaluates the thresholds and reports whether calls must be shed
func (b *CircuitBreaker) IsOpen() bool {
	if atomic.LoadInt32(&b.open) == 1 {
		return true
	}
	errs := atomic.LoadInt64(&b.errors)
	reqs := atomic.LoadInt64(&b.requests)
	trip := errs > b.maxErrors ||
		(errs > 0 && reqs > 0 && float64(errs)/float64(reqs) > b.maxErrorRate)
	if !trip {
		return false
	}
	if atomic.CompareAndSwapInt32(&b.open, 0, 1) {
		b.lock.Lock()
		b.timer = time.AfterFunc(b.cooldown, b.Reset)
		b.lock.Unlock()
	}
	return true
}

// Reset closes the breaker and clears the counters
func (b *CircuitBreaker) Reset() {
	b.lock.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.lock.Unlock()
	atomic.StoreInt64(&b.requests, 0)
	atomic.StoreInt64(&b.errors, 0)
	atomic.StoreInt32(&b.open, 0)
}

// Counts returns the current request and error counters
func (b *CircuitBreaker) Counts() (requests, errors int64) {
	return atomic.LoadInt64(&b.requests), atomic.LoadInt64(&b.errors)
}

// BreakerTable lazily creates one breaker per endpoint
type BreakerTable struct {
	lock         deadlock.RWMutex
	breakers     map[rpccore.Endpoint]*CircuitBreaker
	maxErrors    int
	maxErrorRate float64
	cooldown     time.Duration
}

func NewBreakerTable(maxErrors int, maxErrorRate float64, cooldown time.Duration) *BreakerTable {
	return &BreakerTable{
		breakers:     make(map[rpccore.Endpoint]*CircuitBreaker),
		maxErrors:    maxErrors,
		maxErrorRate: maxErrorRate,
		cooldown:     cooldown,
	}
}

func (t *BreakerTable) Get(ep rpccore.Endpoint) *CircuitBreaker {
	t.lock.RLock()
	b, ok := t.breakers[ep]
	t.lock.RUnlock()
	if ok {
		return b
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if b, ok = t.breakers[ep]; !ok {
		b = NewCircuitBreaker(t.maxErrors, t.maxErrorRate, t.cooldown)
		t.breakers[ep] = b
	}
	return b
}
