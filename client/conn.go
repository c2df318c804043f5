package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/PwzXxm/nrpc-lite/protocol"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

const DefaultDialTimeout = 3 * time.Second

var errEvicted = errors.New("evicted by heartbeat")

type conn struct {
	ep        rpccore.Endpoint
	raw       net.Conn
	writeLock deadlock.Mutex
	closeOnce sync.Once
}

func (c *conn) write(frame []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	_, err := c.raw.Write(frame)
	return err
}

// dial is one connection attempt shared by every caller asking for the
// same endpoint while it runs
type dial struct {
	done chan struct{}
	c    *conn
	err  error
}

// connCache holds at most one connection per endpoint. Each connection
// has one reader goroutine feeding the pending table. Dials run outside
// the lock.
type connCache struct {
	lock        deadlock.RWMutex
	conns       map[rpccore.Endpoint]*conn
	dials       map[rpccore.Endpoint]*dial
	network     rpccore.Network
	dialTimeout time.Duration
	codec       *protocol.Codec
	pending     *PendingTable
	logger      *logrus.Entry
}

func newConnCache(network rpccore.Network, dialTimeout time.Duration, codec *protocol.Codec,
	pending *PendingTable, logger *logrus.Entry) *connCache {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &connCache{
		conns:       make(map[rpccore.Endpoint]*conn),
		dials:       make(map[rpccore.Endpoint]*dial),
		network:     network,
		dialTimeout: dialTimeout,
		codec:       codec,
		pending:     pending,
		logger:      logger,
	}
}

func (cc *connCache) lookup(ep rpccore.Endpoint) (*conn, bool) {
	cc.lock.RLock()
	defer cc.lock.RUnlock()
	c, ok := cc.conns[ep]
	return c, ok
}

// get returns the cached connection or dials a new one. Concurrent
// callers for the same endpoint share one dial; each stops waiting when
// its own ctx is done.
func (cc *connCache) get(ctx context.Context, ep rpccore.Endpoint) (*conn, error) {
	if c, ok := cc.lookup(ep); ok {
		return c, nil
	}
	cc.lock.Lock()
	if c, ok := cc.conns[ep]; ok {
		cc.lock.Unlock()
		return c, nil
	}
	d, inflight := cc.dials[ep]
	if !inflight {
		d = &dial{done: make(chan struct{})}
		cc.dials[ep] = d
	}
	cc.lock.Unlock()

	if !inflight {
		go cc.dial(ep, d)
	}
	select {
	case <-d.done:
		return d.c, d.err
	case <-ctx.Done():
		return nil, rpcerr.Wrap(ctx.Err(), rpcerr.KindTimeout, "connect to %v", ep)
	}
}

func (cc *connCache) dial(ep rpccore.Endpoint, d *dial) {
	dctx, cancel := context.WithTimeout(context.Background(), cc.dialTimeout)
	defer cancel()
	raw, err := cc.network.Dial(dctx, ep)

	cc.lock.Lock()
	delete(cc.dials, ep)
	if err != nil {
		d.err = rpcerr.Wrap(err, rpcerr.KindNetwork, "connect to %v", ep)
	} else {
		d.c = &conn{ep: ep, raw: raw}
		cc.conns[ep] = d.c
	}
	cc.lock.Unlock()
	close(d.done)

	if err != nil {
		cc.logger.Debugf("Unable to connect to %v: %v", ep, err)
		return
	}
	go cc.readLoop(d.c)
	cc.logger.Debugf("Connected to %v", ep)
}

func (cc *connCache) readLoop(c *conn) {
	for {
		frame, err := protocol.ReadFrame(c.raw)
		if err != nil {
			cc.drop(c, err)
			return
		}
		res, err := cc.codec.DecodeResponse(frame)
		if err != nil {
			if res == nil {
				// not a frame we can trust, recycle the connection
				cc.logger.Warnf("Protocol error from %v: %v", c.ep, err)
				cc.drop(c, err)
				return
			}
			cc.pending.Fail(res.RequestID, err)
			continue
		}
		cc.logger.Tracef("Response %v (%v) from %v", res.RequestID, res.Code, c.ep)
		cc.pending.Resolve(res)
	}
}

// drop closes c, fails the calls waiting on it and forgets it
func (cc *connCache) drop(c *conn, reason error) {
	first := false
	c.closeOnce.Do(func() {
		first = true
		_ = c.raw.Close()
	})
	if !first {
		return
	}
	n := cc.pending.FailEndpoint(c.ep, rpcerr.Wrap(reason, rpcerr.KindNetwork, "connection to %v lost", c.ep))
	cc.lock.Lock()
	if cc.conns[c.ep] == c {
		delete(cc.conns, c.ep)
	}
	cc.lock.Unlock()
	cc.logger.Debugf("Dropped connection to %v (%v), failed %v calls", c.ep, reason, n)
}

func (cc *connCache) evict(ep rpccore.Endpoint, reason error) {
	if c, ok := cc.lookup(ep); ok {
		cc.drop(c, reason)
	}
}

func (cc *connCache) endpoints() []rpccore.Endpoint {
	cc.lock.RLock()
	eps := make([]rpccore.Endpoint, 0, len(cc.conns))
	for ep := range cc.conns {
		eps = append(eps, ep)
	}
	cc.lock.RUnlock()
	rpccore.SortEndpoints(eps)
	return eps
}

func (cc *connCache) closeAll() {
	cc.lock.RLock()
	conns := make([]*conn, 0, len(cc.conns))
	for _, c := range cc.conns {
		conns = append(conns, c)
	}
	cc.lock.RUnlock()
	for _, c := range conns {
		cc.drop(c, errors.New("client closed"))
	}
}
