package client

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/PwzXxm/nrpc-lite/protocol"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEp = rpccore.Endpoint{Host: "provider", Port: 1}

func idBody(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func TestResolveOnce(t *testing.T) {
	table := NewPendingTable(nil)
	pc, err := table.Add(1, testEp, time.Now().Add(time.Second))
	require.NoError(t, err)
	_, err = table.Add(1, testEp, time.Now().Add(time.Second))
	assert.Error(t, err, "ids are unique while pending")

	assert.True(t, table.Resolve(&protocol.Response{RequestID: 1, Code: protocol.CodeSuccess}))
	assert.False(t, table.Resolve(&protocol.Response{RequestID: 1, Code: protocol.CodeFail}), "duplicate is dropped")
	assert.False(t, table.Resolve(&protocol.Response{RequestID: 99}), "unknown id is dropped")

	res, err := table.Wait(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeSuccess, res.Code)
	assert.Equal(t, 0, table.Len())
}

func TestWaitTimeoutRemovesCall(t *testing.T) {
	table := NewPendingTable(nil)
	pc, err := table.Add(7, testEp, time.Now().Add(20*time.Millisecond))
	require.NoError(t, err)
	_, err = table.Wait(context.Background(), pc)
	assert.True(t, rpcerr.Is(err, rpcerr.KindTimeout))
	assert.Equal(t, 0, table.Len())
	assert.False(t, table.Resolve(&protocol.Response{RequestID: 7}), "late response is dropped")
}

func TestWaitContextCancelled(t *testing.T) {
	table := NewPendingTable(nil)
	pc, err := table.Add(8, testEp, time.Now().Add(time.Minute))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = table.Wait(ctx, pc)
	assert.True(t, rpcerr.Is(err, rpcerr.KindTimeout))
	assert.Equal(t, 0, table.Len())
}

func TestFailEndpoint(t *testing.T) {
	table := NewPendingTable(nil)
	other := rpccore.Endpoint{Host: "other", Port: 1}
	a, _ := table.Add(1, testEp, time.Now().Add(time.Second))
	b, _ := table.Add(2, testEp, time.Now().Add(time.Second))
	c, _ := table.Add(3, other, time.Now().Add(time.Second))

	assert.Equal(t, 2, table.FailEndpoint(testEp, errors.New("gone")))
	for _, pc := range []*PendingCall{a, b} {
		_, err := table.Wait(context.Background(), pc)
		assert.EqualError(t, err, "gone")
	}
	assert.Equal(t, 1, table.Len())
	assert.True(t, table.Fail(3, errors.New("x")))
	_, err := table.Wait(context.Background(), c)
	assert.Error(t, err)
}

// every response reaches the call with its id, whatever the arrival order
func TestCorrelationUniqueness(t *testing.T) {
	table := NewPendingTable(nil)
	const n = 500
	calls := make([]*PendingCall, n)
	for i := range calls {
		pc, err := table.Add(uint64(i+1), testEp, time.Now().Add(5*time.Second))
		require.NoError(t, err)
		calls[i] = pc
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, pc := range calls {
		wg.Add(1)
		go func(pc *PendingCall) {
			defer wg.Done()
			res, err := table.Wait(context.Background(), pc)
			if err != nil {
				errs <- err
				return
			}
			if binary.BigEndian.Uint64(res.Body) != pc.ID || res.RequestID != pc.ID {
				errs <- errors.Errorf("call %v got response %v", pc.ID, res.RequestID)
			}
		}(pc)
	}

	order := rand.Perm(n)
	var resolvers sync.WaitGroup
	for w := 0; w < 4; w++ {
		resolvers.Add(1)
		go func(w int) {
			defer resolvers.Done()
			for i := w; i < n; i += 4 {
				id := uint64(order[i] + 1)
				resp := &protocol.Response{RequestID: id, Code: protocol.CodeSuccess, Body: idBody(id)}
				table.Resolve(resp)
				// duplicates must never reach anyone
				table.Resolve(resp)
			}
		}(w)
	}
	resolvers.Wait()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 0, table.Len())
}
