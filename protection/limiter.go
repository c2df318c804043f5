package protection

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

// RateLimiter decides whether one more request may pass
type RateLimiter interface {
	AllowRequest() bool
}

// TokenBucket starts full and is refilled lazily on every check with
// floor(elapsed * rate / 1000) tokens, capped at capacity
type TokenBucket struct {
	lock       deadlock.Mutex
	tokens     int64
	capacity   int64
	rate       int64
	lastRefill time.Time
	now        func() time.Time
}

func NewTokenBucket(capacity, ratePerSecond int) *TokenBucket {
	return newTokenBucket(capacity, ratePerSecond, time.Now)
}

func newTokenBucket(capacity, ratePerSecond int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     int64(capacity),
		capacity:   int64(capacity),
		rate:       int64(ratePerSecond),
		lastRefill: now(),
		now:        now,
	}
}

func (b *TokenBucket) AllowRequest() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Milliseconds()
	if add := elapsed * b.rate / 1000; add > 0 {
		b.tokens += add
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the tokens left after the last check
func (b *TokenBucket) Tokens() int64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.tokens
}

// LimiterTable keeps one bucket per caller. It is bounded so a provider
// talking to many short-lived callers doesn't grow without limit; an
// evicted caller simply starts again with a full bucket.
type LimiterTable struct {
	lock     deadlock.Mutex
	cache    *lru.Cache
	capacity int
	rate     int
}

func NewLimiterTable(size, capacity, ratePerSecond int) (*LimiterTable, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LimiterTable{cache: cache, capacity: capacity, rate: ratePerSecond}, nil
}

func (t *LimiterTable) Get(caller string) RateLimiter {
	t.lock.Lock()
	defer t.lock.Unlock()
	if v, ok := t.cache.Get(caller); ok {
		return v.(RateLimiter)
	}
	b := NewTokenBucket(t.capacity, t.rate)
	t.cache.Add(caller, b)
	return b
}

// Allow is a shortcut for Get(caller).AllowRequest()
func (t *LimiterTable) Allow(caller string) bool {
	return t.Get(caller).AllowRequest()
}

func (t *LimiterTable) Len() int {
	return t.cache.Len()
}
