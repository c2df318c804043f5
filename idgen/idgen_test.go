package idgen

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsOutOfRange(t *testing.T) {
	_, err := New(MaxDataCenter+1, 0)
	assert.Error(t, err)
	_, err = New(0, MaxMachine+1)
	assert.Error(t, err)
	_, err = New(-1, 0)
	assert.Error(t, err)
}

func TestDecompose(t *testing.T) {
	g, err := New(3, 7)
	require.NoError(t, err)
	fixed := Epoch.Add(1234 * time.Millisecond)
	g.now = func() time.Time { return fixed }

	id, err := g.Next()
	require.NoError(t, err)
	stamp, dc, m, seq := Decompose(id)
	assert.True(t, stamp.Equal(fixed))
	assert.Equal(t, 3, dc)
	assert.Equal(t, 7, m)
	assert.Equal(t, 0, seq)

	id2, err := g.Next()
	require.NoError(t, err)
	_, _, _, seq = Decompose(id2)
	assert.Equal(t, 1, seq)
	assert.True(t, id2 > id)
}

func TestClockRollback(t *testing.T) {
	g, err := New(0, 0)
	require.NoError(t, err)
	at := Epoch.Add(time.Hour)
	g.now = func() time.Time { return at }
	_, err = g.Next()
	require.NoError(t, err)
	at = at.Add(-time.Second)
	_, err = g.Next()
	assert.Error(t, err)
}

func TestConcurrentUnique(t *testing.T) {
	g, err := New(1, 2)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	ids := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id, err := g.Next()
				if err != nil {
					t.Errorf("Next failed: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %v", id)
		}
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}
