package rpccore

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

// ChanNetwork is an in-memory network made of synchronous pipes. Every
// listener is addressed by its endpoint; dialing an endpoint nobody
// listens on fails immediately, like a refused TCP connection.
type ChanNetwork struct {
	lock           deadlock.RWMutex
	listeners      map[Endpoint]*chanListener
	delayGenerator DelayGenerator
}

// DelayGenerator returns the delay added to every write from source to
// target
type DelayGenerator func(source string, target Endpoint) time.Duration

func NewChanNetwork() *ChanNetwork {
	n := new(ChanNetwork)
	n.listeners = make(map[Endpoint]*chanListener)
	n.delayGenerator = func(source string, target Endpoint) time.Duration {
		return 0
	}
	return n
}

func (n *ChanNetwork) SetDelayGenerator(delayGenerator DelayGenerator) {
	n.lock.Lock()
	n.delayGenerator = delayGenerator
	n.lock.Unlock()
}

func (n *ChanNetwork) delay(source string, target Endpoint) time.Duration {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.delayGenerator(source, target)
}

// As returns a view of the network whose connections identify themselves
// with the given caller name on the accepting side
func (n *ChanNetwork) As(caller string) Network {
	return &chanDialer{network: n, caller: caller}
}

func (n *ChanNetwork) Dial(ctx context.Context, target Endpoint) (net.Conn, error) {
	return n.dial(ctx, "anonymous", target)
}

func (n *ChanNetwork) Listen(local Endpoint) (net.Listener, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if _, ok := n.listeners[local]; ok {
		return nil, errors.New(fmt.Sprintf(
			"Endpoint already in use: %v.", local))
	}
	l := &chanListener{
		network: n,
		local:   local,
		accept:  make(chan net.Conn),
		closed:  make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
	n.listeners[local] = l
	return l, nil
}

// Kill drops the listener of target together with every connection it
// accepted, simulating a crashed provider
func (n *ChanNetwork) Kill(target Endpoint) {
	n.lock.RLock()
	l, ok := n.listeners[target]
	n.lock.RUnlock()
	if !ok {
		return
	}
	_ = l.Close()
	l.lock.Lock()
	for c := range l.conns {
		_ = c.Close()
	}
	l.conns = make(map[net.Conn]struct{})
	l.lock.Unlock()
}

func (n *ChanNetwork) dial(ctx context.Context, caller string, target Endpoint) (net.Conn, error) {
	n.lock.RLock()
	l, ok := n.listeners[target]
	n.lock.RUnlock()
	if !ok {
		return nil, errors.New(fmt.Sprintf(
			"Unable to find target endpoint: %v.", target))
	}
	clientSide, serverSide := net.Pipe()
	callerAddr := chanAddr(caller)
	client := &chanConn{Conn: clientSide, local: callerAddr, remote: chanAddr(target.String()),
		write: func() { time.Sleep(n.delay(caller, target)) }}
	server := &chanConn{Conn: serverSide, local: chanAddr(target.String()), remote: callerAddr,
		write: func() {}}
	select {
	case l.accept <- server:
		l.lock.Lock()
		l.conns[server] = struct{}{}
		l.lock.Unlock()
		return client, nil
	case <-l.closed:
		return nil, errors.New(fmt.Sprintf(
			"Connection refused by endpoint: %v.", target))
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

type chanDialer struct {
	network *ChanNetwork
	caller  string
}

func (d *chanDialer) Dial(ctx context.Context, target Endpoint) (net.Conn, error) {
	return d.network.dial(ctx, d.caller, target)
}

func (d *chanDialer) Listen(local Endpoint) (net.Listener, error) {
	return d.network.Listen(local)
}

type chanListener struct {
	network *ChanNetwork
	local   Endpoint
	accept  chan net.Conn
	closed  chan struct{}
	once    sync.Once
	lock    deadlock.Mutex
	conns   map[net.Conn]struct{}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, errors.New("listener closed")
	}
}

func (l *chanListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.network.lock.Lock()
		if l.network.listeners[l.local] == l {
			delete(l.network.listeners, l.local)
		}
		l.network.lock.Unlock()
	})
	return nil
}

func (l *chanListener) Addr() net.Addr {
	return chanAddr(l.local.String())
}

// we are sharing the pipe ends between goroutines, the wrappers below
// should be treated as immutable
type chanConn struct {
	net.Conn
	local  net.Addr
	remote net.Addr
	write  func()
}

func (c *chanConn) Write(b []byte) (int, error) {
	c.write()
	return c.Conn.Write(b)
}

func (c *chanConn) LocalAddr() net.Addr  { return c.local }
func (c *chanConn) RemoteAddr() net.Addr { return c.remote }

type chanAddr string

func (a chanAddr) Network() string { return "chan" }
func (a chanAddr) String() string  { return string(a) }
