package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	c := NewCoordinator()
	release, ok := c.Acquire()
	require.True(t, ok)
	assert.Equal(t, int64(1), c.InFlight())
	release()
	release()
	assert.Equal(t, int64(0), c.InFlight(), "release is idempotent")
}

func TestNoAdmissionWhileDraining(t *testing.T) {
	c := NewCoordinator()
	c.BeginDrain()
	assert.True(t, c.Draining())
	_, ok := c.Acquire()
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.InFlight())
}

func TestDrainWaitsForInFlight(t *testing.T) {
	c := NewCoordinator()
	c.PollInterval = 10 * time.Millisecond
	release, ok := c.Acquire()
	require.True(t, ok)

	go func() {
		time.Sleep(100 * time.Millisecond)
		release()
	}()
	start := time.Now()
	require.NoError(t, c.Drain(context.Background(), 5*time.Second))
	assert.GreaterOrEqual(t, int64(time.Since(start)), int64(100*time.Millisecond))
	assert.Equal(t, int64(0), c.InFlight())
}

func TestDrainTimeout(t *testing.T) {
	c := NewCoordinator()
	c.PollInterval = 10 * time.Millisecond
	_, ok := c.Acquire()
	require.True(t, ok)
	start := time.Now()
	assert.Equal(t, ErrDrainTimeout, c.Drain(context.Background(), 200*time.Millisecond))
	elapsed := time.Since(start)
	assert.True(t, elapsed >= 200*time.Millisecond && elapsed < 2*time.Second, elapsed)
}

func TestDrainCancelled(t *testing.T) {
	c := NewCoordinator()
	_, ok := c.Acquire()
	require.True(t, ok)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.Drain(ctx, time.Minute))
}

// nothing is admitted once BeginDrain returned and every admitted call
// is released
func TestConcurrentAcquireAndDrain(t *testing.T) {
	c := NewCoordinator()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok := c.Acquire()
			if !ok {
				return
			}
			time.Sleep(time.Millisecond)
			release()
		}()
	}
	c.BeginDrain()
	_, ok := c.Acquire()
	assert.False(t, ok)
	wg.Wait()
	assert.Equal(t, int64(0), c.InFlight())
}
