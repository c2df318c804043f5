package loadbalance

import (
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

type cached struct {
	selector  Selector
	endpoints []rpccore.Endpoint
}

// Balancer caches one selector per (service, group)
type Balancer struct {
	lock     deadlock.RWMutex
	registry registry.Registry
	strategy Strategy
	cache    map[string]*cached
	logger   *logrus.Entry
}

func NewBalancer(reg registry.Registry, strategy Strategy, logger *logrus.Entry) *Balancer {
	if strategy == nil {
		strategy = RoundRobin
	}
	return &Balancer{
		registry: reg,
		strategy: strategy,
		cache:    make(map[string]*cached),
		logger:   utils.OrNop(logger),
	}
}

// Select picks the endpoint for one call. The first use of a pair pulls
// the endpoint list from the registry; an empty list is a discovery
// error and is not cached.
func (b *Balancer) Select(service, group string, requestID uint64) (rpccore.Endpoint, error) {
	key := registry.Key(service, group)
	b.lock.RLock()
	c, ok := b.cache[key]
	b.lock.RUnlock()
	if !ok {
		var err error
		if c, err = b.load(service, group); err != nil {
			return rpccore.Endpoint{}, err
		}
	}
	return c.selector.Next(requestID)
}

func (b *Balancer) load(service, group string) (*cached, error) {
	key := registry.Key(service, group)
	b.lock.Lock()
	defer b.lock.Unlock()
	// Double-checked locking
	if c, ok := b.cache[key]; ok {
		return c, nil
	}
	if b.registry == nil {
		return nil, rpcerr.New(rpcerr.KindDiscovery, "no registry to look up %v", key)
	}
	eps, err := b.registry.Lookup(service, group)
	if err != nil {
		return nil, rpcerr.Wrap(err, rpcerr.KindDiscovery, "look up %v", key)
	}
	if len(eps) == 0 {
		return nil, rpcerr.New(rpcerr.KindDiscovery, "no endpoints for %v", key)
	}
	c := &cached{selector: b.strategy(eps), endpoints: copyEndpoints(eps)}
	b.cache[key] = c
	b.logger.Infof("Loaded %v endpoints for %v", len(eps), key)
	return c, nil
}

// OnTopologyChange replaces the pair's selector with one built from eps.
// The old selector is closed before the new one becomes visible.
func (b *Balancer) OnTopologyChange(service, group string, eps []rpccore.Endpoint) {
	key := registry.Key(service, group)
	next := &cached{selector: b.strategy(eps), endpoints: copyEndpoints(eps)}
	b.lock.Lock()
	defer b.lock.Unlock()
	if old, ok := b.cache[key]; ok {
		old.selector.Close()
	}
	b.cache[key] = next
	b.logger.Infof("Topology of %v changed, %v endpoints", key, len(eps))
}

// Endpoints returns the cached list for the pair, loading it on first use
func (b *Balancer) Endpoints(service, group string) ([]rpccore.Endpoint, error) {
	key := registry.Key(service, group)
	b.lock.RLock()
	c, ok := b.cache[key]
	b.lock.RUnlock()
	if !ok {
		var err error
		if c, err = b.load(service, group); err != nil {
			return nil, err
		}
	}
	return copyEndpoints(c.endpoints), nil
}

func (b *Balancer) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	for key, c := range b.cache {
		c.selector.Close()
		delete(b.cache, key)
	}
}
