package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PwzXxm/nrpc-lite/protocol"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNetwork struct {
	rpccore.Network
	dials int64
}

func (n *countingNetwork) Dial(ctx context.Context, target rpccore.Endpoint) (net.Conn, error) {
	atomic.AddInt64(&n.dials, 1)
	return n.Network.Dial(ctx, target)
}

// listen exposes ep on network. Unless accept is set, dials to it hang
// until their context expires.
func listen(t *testing.T, network *rpccore.ChanNetwork, ep rpccore.Endpoint, accept bool) {
	l, err := network.Listen(ep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	if !accept {
		return
	}
	go func() {
		for {
			if _, err := l.Accept(); err != nil {
				return
			}
		}
	}()
}

func newTestConnCache(network rpccore.Network, dialTimeout time.Duration) *connCache {
	logger := utils.NopLogger()
	return newConnCache(network, dialTimeout, protocol.NewCodec(nil, nil), NewPendingTable(logger), logger)
}

func (cc *connCache) dialing(ep rpccore.Endpoint) bool {
	cc.lock.RLock()
	defer cc.lock.RUnlock()
	_, ok := cc.dials[ep]
	return ok
}

func TestHangingDialDoesNotBlockOtherEndpoints(t *testing.T) {
	network := rpccore.NewChanNetwork()
	healthy := rpccore.Endpoint{Host: "healthy", Port: 1}
	fresh := rpccore.Endpoint{Host: "fresh", Port: 1}
	hanging := rpccore.Endpoint{Host: "hanging", Port: 1}
	listen(t, network, healthy, true)
	listen(t, network, fresh, true)
	listen(t, network, hanging, false)

	cc := newTestConnCache(network.As("consumer"), 500*time.Millisecond)
	defer cc.closeAll()
	cached, err := cc.get(context.Background(), healthy)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := cc.get(context.Background(), hanging)
		done <- err
	}()
	assert.Eventually(t, func() bool { return cc.dialing(hanging) }, time.Second, time.Millisecond)

	start := time.Now()
	c, err := cc.get(context.Background(), healthy)
	require.NoError(t, err)
	assert.Same(t, cached, c)
	_, err = cc.get(context.Background(), fresh)
	require.NoError(t, err)
	assert.Less(t, int64(time.Since(start)), int64(100*time.Millisecond))
	assert.True(t, cc.dialing(hanging), "hanging dial still in flight")

	// a caller gives up with its own context, the dial keeps going
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cc.get(ctx, hanging)
	assert.True(t, rpcerr.Is(err, rpcerr.KindTimeout))

	select {
	case err := <-done:
		assert.True(t, rpcerr.Is(err, rpcerr.KindNetwork))
	case <-time.After(2 * time.Second):
		t.Fatal("dial timeout was not applied")
	}
	assert.False(t, cc.dialing(hanging))
	assert.Equal(t, []rpccore.Endpoint{fresh, healthy}, cc.endpoints())
}

func TestConcurrentGetsShareOneDial(t *testing.T) {
	network := rpccore.NewChanNetwork()
	ep := rpccore.Endpoint{Host: "provider", Port: 1}
	listen(t, network, ep, true)
	counting := &countingNetwork{Network: network.As("consumer")}
	cc := newTestConnCache(counting, time.Second)
	defer cc.closeAll()

	conns := make([]*conn, 10)
	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := cc.get(context.Background(), ep)
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(1), atomic.LoadInt64(&counting.dials))
	for _, c := range conns {
		assert.Same(t, conns[0], c)
	}
}
