// Package loadbalance picks one endpoint per call for a (service, group)
// pair. Strategies build Selectors from an endpoint list; the Balancer
// caches one Selector per pair and swaps it on topology changes.
package loadbalance

import (
	"crypto/md5"
	"encoding/binary"
	"strconv"
	"sync/atomic"

	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/golang/groupcache/consistenthash"
	"github.com/pkg/errors"
)

// Selector representing one strategy instance over a fixed endpoint list
type Selector interface {
	// Next picks the endpoint for the request. requestID is the key of
	// the consistent hash strategy, the others ignore it.
	Next(requestID uint64) (rpccore.Endpoint, error)
	Close()
}

// Strategy builds a selector from an endpoint list. The list is copied.
type Strategy func(eps []rpccore.Endpoint) Selector

// LatencyView exposes the latest heartbeat round trips and the
// connection cache
type LatencyView interface {
	// Fastest returns the candidate with the lowest sampled latency,
	// false if none of them has a sample
	Fastest(candidates []rpccore.Endpoint) (rpccore.Endpoint, bool)

	// Cached reports whether a connection to ep is open
	Cached(ep rpccore.Endpoint) bool
}

const (
	NameRoundRobin     = "roundrobin"
	NameConsistentHash = "consistenthash"
	NameMinimumLatency = "minimumlatency"

	VirtualNodes = 128
)

// StrategyByName resolves a configured strategy. view is only used by the
// minimum latency strategy.
func StrategyByName(name string, view LatencyView) (Strategy, error) {
	switch name {
	case NameRoundRobin, "":
		return RoundRobin, nil
	case NameConsistentHash:
		return ConsistentHash, nil
	case NameMinimumLatency:
		if view == nil {
			return nil, errors.New("minimum latency needs a latency view")
		}
		return MinimumLatency(view), nil
	}
	return nil, errors.Errorf("unknown load balancer %q", name)
}

func noEndpoints() error {
	return rpcerr.New(rpcerr.KindDiscovery, "no endpoints")
}

func copyEndpoints(eps []rpccore.Endpoint) []rpccore.Endpoint {
	c := make([]rpccore.Endpoint, len(eps))
	copy(c, eps)
	return c
}

type roundRobin struct {
	eps    []rpccore.Endpoint
	cursor uint64
}

// RoundRobin visits the list in order and wraps at the end
func RoundRobin(eps []rpccore.Endpoint) Selector {
	return &roundRobin{eps: copyEndpoints(eps)}
}

func (r *roundRobin) Next(uint64) (rpccore.Endpoint, error) {
	if len(r.eps) == 0 {
		return rpccore.Endpoint{}, noEndpoints()
	}
	i := (atomic.AddUint64(&r.cursor, 1) - 1) % uint64(len(r.eps))
	return r.eps[i], nil
}

func (r *roundRobin) Close() {}

type consistentHash struct {
	ring   *consistenthash.Map
	byName map[string]rpccore.Endpoint
}

// first 4 bytes of the md5 digest, little-endian
func md5Hash(data []byte) uint32 {
	sum := md5.Sum(data)
	return binary.LittleEndian.Uint32(sum[:4])
}

// ConsistentHash places every endpoint at VirtualNodes ring positions and
// maps a request id to the nearest position clockwise
func ConsistentHash(eps []rpccore.Endpoint) Selector {
	c := &consistentHash{
		ring:   consistenthash.New(VirtualNodes, md5Hash),
		byName: make(map[string]rpccore.Endpoint, len(eps)),
	}
	for _, ep := range eps {
		name := ep.String()
		c.byName[name] = ep
		c.ring.Add(name)
	}
	return c
}

func (c *consistentHash) Next(requestID uint64) (rpccore.Endpoint, error) {
	if c.ring.IsEmpty() {
		return rpccore.Endpoint{}, noEndpoints()
	}
	return c.byName[c.ring.Get(strconv.FormatUint(requestID, 10))], nil
}

func (c *consistentHash) Close() {}

type minimumLatency struct {
	eps  []rpccore.Endpoint
	view LatencyView
}

// MinimumLatency picks the endpoint with the lowest heartbeat round trip.
// Without samples it takes the first listed endpoint with an open
// connection, then the first listed one.
func MinimumLatency(view LatencyView) Strategy {
	return func(eps []rpccore.Endpoint) Selector {
		return &minimumLatency{eps: copyEndpoints(eps), view: view}
	}
}

func (m *minimumLatency) Next(uint64) (rpccore.Endpoint, error) {
	if len(m.eps) == 0 {
		return rpccore.Endpoint{}, noEndpoints()
	}
	if ep, ok := m.view.Fastest(m.eps); ok {
		return ep, nil
	}
	for _, ep := range m.eps {
		if m.view.Cached(ep) {
			return ep, nil
		}
	}
	return m.eps[0], nil
}

func (m *minimumLatency) Close() {}
