package registry

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/PwzXxm/nrpc-lite/pstorage"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	epA = rpccore.Endpoint{Host: "10.0.0.1", Port: 9000}
	epB = rpccore.Endpoint{Host: "10.0.0.1", Port: 8000}
	epC = rpccore.Endpoint{Host: "10.0.0.0", Port: 9999}
)

// exercises the behaviour every backend shares
func testRegistry(t *testing.T, r Registry) {
	eps, err := r.Lookup("greeter", "default")
	require.NoError(t, err)
	assert.Empty(t, eps)

	changes := make(chan []rpccore.Endpoint, 16)
	cancel, err := r.Watch("greeter", "default", func(eps []rpccore.Endpoint) {
		changes <- eps
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, r.Register("greeter", "default", epA))
	require.NoError(t, r.Register("greeter", "default", epB))
	require.NoError(t, r.Register("greeter", "default", epC))
	// same endpoint twice is a no-op
	require.NoError(t, r.Register("greeter", "default", epC))
	require.NoError(t, r.Register("greeter", "canary", epA))

	eps, err = r.Lookup("greeter", "default")
	require.NoError(t, err)
	assert.Equal(t, []rpccore.Endpoint{epC, epB, epA}, eps, "lookup is sorted by host then port")

	waitFor(t, changes, []rpccore.Endpoint{epC, epB, epA})

	require.NoError(t, r.Deregister("greeter", "default", epB))
	waitFor(t, changes, []rpccore.Endpoint{epC, epA})

	eps, err = r.Lookup("greeter", "canary")
	require.NoError(t, err)
	assert.Equal(t, []rpccore.Endpoint{epA}, eps)
}

// waitFor drains notifications until want shows up
func waitFor(t *testing.T, changes chan []rpccore.Endpoint, want []rpccore.Endpoint) {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case eps := <-changes:
			if sameEndpoints(eps, want) {
				return
			}
		case <-deadline:
			t.Fatalf("no notification with %v", want)
		}
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	testRegistry(t, m)
	assert.ElementsMatch(t, []string{"greeter/default", "greeter/canary"}, m.Keys())
}

func TestMemoryWatchCancel(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	calls := make(chan []rpccore.Endpoint, 4)
	cancel, err := m.Watch("s", "g", func(eps []rpccore.Endpoint) { calls <- eps })
	require.NoError(t, err)
	cancel()
	cancel()
	require.NoError(t, m.Register("s", "g", epA))
	select {
	case <-calls:
		t.Fatal("cancelled watcher was notified")
	case <-time.After(100 * time.Millisecond):
	}
}

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func TestServerAndRemote(t *testing.T) {
	addr := freeAddr(t)
	storage := pstorage.NewMemory(nil)
	s, err := NewServer(addr, storage, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	r := NewRemote(addr, 50*time.Millisecond, nil)
	testRegistry(t, r)
	require.NoError(t, r.Close())
	s.Stop()

	// a new server restores the table from storage
	s2, err := NewServer(addr, storage, nil)
	require.NoError(t, err)
	assert.Equal(t, []rpccore.Endpoint{epC, epA}, s2.Table()["greeter/default"])
	assert.Equal(t, []rpccore.Endpoint{epA}, s2.Table()["greeter/canary"])
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("NRPC_REDIS_ADDR")
	if addr == "" {
		t.Skip("NRPC_REDIS_ADDR not set")
	}
	r, err := NewRedis(addr, nil)
	require.NoError(t, err)
	defer r.Close()
	for _, group := range []string{"default", "canary"} {
		for _, ep := range []rpccore.Endpoint{epA, epB, epC} {
			require.NoError(t, r.Deregister("greeter", group, ep))
		}
	}
	testRegistry(t, r)
}

func TestOpen(t *testing.T) {
	r, err := Open("memory://", nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, r)

	r, err = Open("gorpc://127.0.0.1:1", nil)
	require.NoError(t, err)
	assert.IsType(t, &Remote{}, r)
	r.Close()

	_, err = Open("zookeeper://127.0.0.1:2181", nil)
	assert.Error(t, err)
}

func TestSplitKey(t *testing.T) {
	s, g := splitKey(Key("a.b.Greeter", "default"))
	assert.Equal(t, "a.b.Greeter", s)
	assert.Equal(t, "default", g)
}
