// Package shutdown tracks in-flight calls on the provider and the
// RUNNING -> DRAINING transition.
package shutdown

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

const (
	DefaultMaxWait      = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// ErrDrainTimeout is returned by Drain when calls were still running at
// the deadline
var ErrDrainTimeout = errors.New("drain timed out with calls in flight")

// Coordinator is safe for concurrent use. DRAINING is terminal.
type Coordinator struct {
	// Acquire holds the read side, BeginDrain the write side, so no call
	// is admitted once draining started
	gate     deadlock.RWMutex
	draining bool
	inFlight int64

	PollInterval time.Duration
}

func NewCoordinator() *Coordinator {
	return &Coordinator{PollInterval: DefaultPollInterval}
}

// Acquire admits a call. ok is false once draining started; otherwise
// release must be called exactly once when the call completes.
func (c *Coordinator) Acquire() (release func(), ok bool) {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.draining {
		return nil, false
	}
	atomic.AddInt64(&c.inFlight, 1)
	var done int32
	return func() {
		if atomic.CompareAndSwapInt32(&done, 0, 1) {
			atomic.AddInt64(&c.inFlight, -1)
		}
	}, true
}

func (c *Coordinator) BeginDrain() {
	c.gate.Lock()
	c.draining = true
	c.gate.Unlock()
}

func (c *Coordinator) Draining() bool {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.draining
}

func (c *Coordinator) InFlight() int64 {
	return atomic.LoadInt64(&c.inFlight)
}

// Drain begins draining if needed and waits until no call is in flight,
// maxWait elapsed (ErrDrainTimeout) or ctx is done.
func (c *Coordinator) Drain(ctx context.Context, maxWait time.Duration) error {
	c.BeginDrain()
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	poll := c.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if c.InFlight() == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			if c.InFlight() == 0 {
				return nil
			}
			return ErrDrainTimeout
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
}
