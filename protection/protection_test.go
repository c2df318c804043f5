package protection

import (
	"sync"
	"testing"
	"time"

	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterMaxErrors(t *testing.T) {
	b := NewCircuitBreaker(3, 1.0, 50*time.Millisecond)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
		b.RecordSuccess()
		assert.False(t, b.IsOpen(), "after %d errors", i+1)
	}
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	// stays open even if successes pile up
	for i := 0; i < 10; i++ {
		b.RecordSuccess()
	}
	assert.True(t, b.IsOpen())

	assert.Eventually(t, func() bool { return !b.IsOpen() },
		time.Second, 10*time.Millisecond)
	reqs, errs := b.Counts()
	assert.Zero(t, reqs)
	assert.Zero(t, errs)
}

func TestBreakerCountsEachAttemptOnce(t *testing.T) {
	b := NewCircuitBreaker(100, 1.0, time.Hour)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	reqs, errs := b.Counts()
	assert.Equal(t, int64(6), reqs)
	assert.Equal(t, int64(5), errs)
}

func TestBreakerOpensOnErrorRate(t *testing.T) {
	b := NewCircuitBreaker(100, 0.5, time.Hour)
	b.RecordSuccess()
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "rate 0.5 is not above the limit")
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	b.Reset()
	assert.False(t, b.IsOpen())

	// every attempt failing gives a rate of 1
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	b.Reset()
}

func TestBreakerConcurrent(t *testing.T) {
	b := NewCircuitBreaker(1000, 1.0, time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.RecordFailure()
				b.IsOpen()
			}
		}()
	}
	wg.Wait()
	reqs, errs := b.Counts()
	assert.Equal(t, int64(1000), reqs)
	assert.Equal(t, int64(1000), errs)
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	b.Reset()
}

func TestBreakerTable(t *testing.T) {
	table := NewBreakerTable(1, 1.0, time.Hour)
	a := rpccore.Endpoint{Host: "a", Port: 1}
	assert.Same(t, table.Get(a), table.Get(a))
	assert.NotSame(t, table.Get(a), table.Get(rpccore.Endpoint{Host: "b", Port: 1}))
}

type fakeClock struct {
	lock sync.Mutex
	at   time.Time
}

func (c *fakeClock) now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.at
}

func (c *fakeClock) advance(d time.Duration) {
	c.lock.Lock()
	c.at = c.at.Add(d)
	c.lock.Unlock()
}

func TestTokenBucketBoundary(t *testing.T) {
	const capacity, rate = 5, 10
	clock := &fakeClock{at: time.Unix(1000, 0)}
	b := newTokenBucket(capacity, rate, clock.now)

	for i := 0; i < capacity; i++ {
		assert.True(t, b.AllowRequest(), "call %d", i+1)
	}
	assert.False(t, b.AllowRequest(), "call %d must be denied", capacity+1)
	assert.Zero(t, b.Tokens())

	clock.advance(1000 / rate * time.Millisecond)
	assert.True(t, b.AllowRequest())
	assert.False(t, b.AllowRequest())

	// a long pause never overfills the bucket
	clock.advance(time.Hour)
	for i := 0; i < capacity; i++ {
		assert.True(t, b.AllowRequest())
	}
	assert.False(t, b.AllowRequest())
}

func TestTokenBucketConcurrent(t *testing.T) {
	clock := &fakeClock{at: time.Unix(1000, 0)}
	b := newTokenBucket(50, 1, clock.now)
	var wg sync.WaitGroup
	var lock sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if b.AllowRequest() {
					lock.Lock()
					allowed++
					lock.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
	assert.Zero(t, b.Tokens())
}

func TestLimiterTable(t *testing.T) {
	table, err := NewLimiterTable(2, 1, 1)
	require.NoError(t, err)
	assert.True(t, table.Allow("a"))
	assert.False(t, table.Allow("a"))
	assert.True(t, table.Allow("b"), "callers have separate buckets")

	// "a" is evicted by "c" and comes back with a full bucket
	assert.True(t, table.Allow("c"))
	assert.Equal(t, 2, table.Len())
	assert.True(t, table.Allow("a"))
}
