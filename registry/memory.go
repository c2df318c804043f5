package registry

import (
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/sasha-s/go-deadlock"
	uuid "github.com/satori/go.uuid"
)

type watcher struct {
	key      string
	onChange func([]rpccore.Endpoint)
	// notifications are delivered in order, one goroutine per watcher
	queue chan []rpccore.Endpoint
	done  chan struct{}
}

// Memory is an in-process registry. Watchers are notified asynchronously.
type Memory struct {
	lock     deadlock.RWMutex
	services map[string]map[rpccore.Endpoint]struct{}
	watchers map[string]*watcher
}

func NewMemory() *Memory {
	return &Memory{
		services: make(map[string]map[rpccore.Endpoint]struct{}),
		watchers: make(map[string]*watcher),
	}
}

func (m *Memory) Register(service, group string, ep rpccore.Endpoint) error {
	key := Key(service, group)
	m.lock.Lock()
	defer m.lock.Unlock()
	set, ok := m.services[key]
	if !ok {
		set = make(map[rpccore.Endpoint]struct{})
		m.services[key] = set
	}
	if _, ok := set[ep]; ok {
		return nil
	}
	set[ep] = struct{}{}
	m.notifyLocked(key)
	return nil
}

func (m *Memory) Deregister(service, group string, ep rpccore.Endpoint) error {
	key := Key(service, group)
	m.lock.Lock()
	defer m.lock.Unlock()
	set, ok := m.services[key]
	if !ok {
		return nil
	}
	if _, ok := set[ep]; !ok {
		return nil
	}
	delete(set, ep)
	m.notifyLocked(key)
	return nil
}

func (m *Memory) Lookup(service, group string) ([]rpccore.Endpoint, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.lookupLocked(Key(service, group)), nil
}

func (m *Memory) lookupLocked(key string) []rpccore.Endpoint {
	set := m.services[key]
	eps := make([]rpccore.Endpoint, 0, len(set))
	for ep := range set {
		eps = append(eps, ep)
	}
	rpccore.SortEndpoints(eps)
	return eps
}

func (m *Memory) Watch(service, group string, onChange func([]rpccore.Endpoint)) (func(), error) {
	w := &watcher{
		key:      Key(service, group),
		onChange: onChange,
		queue:    make(chan []rpccore.Endpoint, 16),
		done:     make(chan struct{}),
	}
	id := uuid.NewV4().String()
	m.lock.Lock()
	m.watchers[id] = w
	m.lock.Unlock()

	go func() {
		for {
			select {
			case eps := <-w.queue:
				w.onChange(eps)
			case <-w.done:
				return
			}
		}
	}()

	return func() {
		m.lock.Lock()
		if _, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(w.done)
		}
		m.lock.Unlock()
	}, nil
}

func (m *Memory) notifyLocked(key string) {
	for _, w := range m.watchers {
		if w.key != key {
			continue
		}
		eps := m.lookupLocked(key)
		select {
		case w.queue <- eps:
		default:
			// a slow watcher only needs the latest list
			select {
			case <-w.queue:
			default:
			}
			w.queue <- eps
		}
	}
}

// Keys returns every (service/group) key with at least one endpoint
func (m *Memory) Keys() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	keys := make([]string, 0, len(m.services))
	for k, set := range m.services {
		if len(set) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *Memory) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	for id, w := range m.watchers {
		close(w.done)
		delete(m.watchers, id)
	}
	return nil
}
