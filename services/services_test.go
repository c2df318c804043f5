package services

import (
	"context"
	"testing"

	"github.com/PwzXxm/nrpc-lite/client"
	"github.com/PwzXxm/nrpc-lite/pstorage"
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerActions(t *testing.T) {
	l := NewLedger()
	b := NewActionBuilder("c1")
	require.NoError(t, l.Apply(b.Set("a", 10)))
	require.NoError(t, l.Apply(b.Set("b", 0)))
	incr := b.Incr("a", 5)
	require.NoError(t, l.Apply(incr))
	require.NoError(t, l.Apply(incr), "duplicate is ignored")
	v, _ := l.Get("a")
	assert.Equal(t, 15, v)

	require.NoError(t, l.Apply(b.Move("a", "b", 7)))
	a, _ := l.Get("a")
	bv, _ := l.Get("b")
	assert.Equal(t, []int{8, 7}, []int{a, bv})

	assert.Error(t, l.Apply(b.Incr("missing", 1)))
	assert.Error(t, l.Apply(b.Move("a", "missing", 1)))
	assert.Error(t, l.Apply(b.Move("a", "b", 100)))
	assert.Equal(t, []string{"a", "b"}, l.Keys())

	last, ok := l.LatestRequest("c1")
	assert.True(t, ok)
	assert.Equal(t, incr.RequestID+1, last)
}

func setup(t *testing.T) (*client.Client, *Ledger, func()) {
	network := rpccore.NewChanNetwork()
	reg := registry.NewMemory()
	s, err := server.New(server.Config{Network: network,
		Listen: rpccore.Endpoint{Host: "provider", Port: 8088}, Registry: reg,
		LimiterCapacity: 100}, nil)
	require.NoError(t, err)
	ledger := NewLedger()
	require.NoError(t, s.Publish(NewGreeter("default")))
	require.NoError(t, s.Publish(NewLedgerService("default", ledger)))
	require.NoError(t, s.Start())

	c, err := client.New(client.Config{Network: network.As("consumer"), Registry: reg,
		DisableHeartbeat: true}, nil)
	require.NoError(t, err)
	return c, ledger, func() {
		c.Close()
		_ = s.Shutdown(context.Background())
		_ = reg.Close()
	}
}

func TestGreeter(t *testing.T) {
	c, _, cleanup := setup(t)
	defer cleanup()
	out, err := NewGreeterClient(c, "default", client.RetryPolicy{}).SayHello(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi consumer: hello", out)
}

func TestLedgerOverRPC(t *testing.T) {
	c, ledger, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()
	lc := NewLedgerClient(c, "default", "consumer-1", client.RetryPolicy{})

	require.NoError(t, lc.Set(ctx, "alice", 100))
	require.NoError(t, lc.Set(ctx, "bob", 5))
	require.NoError(t, lc.Incr(ctx, "bob", 5))
	require.NoError(t, lc.Move(ctx, "alice", "bob", 30))

	v, err := lc.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 40, v)
	v, _ = ledger.Get("alice")
	assert.Equal(t, 70, v)

	_, err = lc.Get(ctx, "carol")
	assert.True(t, rpcerr.Is(err, rpcerr.KindRemote))
	assert.Contains(t, err.Error(), "invalid key: carol")
	err = lc.Incr(ctx, "carol", 1)
	assert.True(t, rpcerr.Is(err, rpcerr.KindRemote))
}

func TestPersistentLedger(t *testing.T) {
	storage := pstorage.NewMemory(nil)
	l, err := NewPersistentLedger(storage)
	require.NoError(t, err)
	b := NewActionBuilder("c1")
	require.NoError(t, l.Apply(b.Set("a", 3)))
	incr := b.Incr("a", 4)
	require.NoError(t, l.Apply(incr))

	restored, err := NewPersistentLedger(storage)
	require.NoError(t, err)
	v, ok := restored.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	// the restored ledger still knows the last request
	require.NoError(t, restored.Apply(incr))
	v, _ = restored.Get("a")
	assert.Equal(t, 7, v)
}
