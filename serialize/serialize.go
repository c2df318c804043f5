// Package serialize holds the pluggable serializers. Each serializer is
// registered under a stable numeric code that travels in every frame
// header, so a peer always decodes with the serializer the sender used.
package serialize

import (
	"sort"

	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/sasha-s/go-deadlock"
)

const (
	CodeGob  byte = 1
	CodeJSON byte = 2
)

// Serializer turns values into bytes and back
type Serializer interface {
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte, v interface{}) error
}

type entry struct {
	code byte
	name string
	impl Serializer
}

// Registry maps codes and names to serializers. It is safe for concurrent
// use; registration normally happens once at start-up.
type Registry struct {
	lock   deadlock.RWMutex
	byCode map[byte]*entry
	byName map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{
		byCode: make(map[byte]*entry),
		byName: make(map[string]*entry),
	}
}

// Default returns a registry with gob and json registered
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(CodeGob, "gob", Gob{})
	_ = r.Register(CodeJSON, "json", JSON{})
	return r
}

func (r *Registry) Register(code byte, name string, s Serializer) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.byCode[code]; ok {
		return rpcerr.New(rpcerr.KindSerialization,
			"serializer code %d already registered", code)
	}
	if _, ok := r.byName[name]; ok {
		return rpcerr.New(rpcerr.KindSerialization,
			"serializer %q already registered", name)
	}
	e := &entry{code: code, name: name, impl: s}
	r.byCode[code] = e
	r.byName[name] = e
	return nil
}

func (r *Registry) ByCode(code byte) (Serializer, error) {
	r.lock.RLock()
	e, ok := r.byCode[code]
	r.lock.RUnlock()
	if !ok {
		return nil, rpcerr.New(rpcerr.KindSerialization,
			"unknown serializer code %d", code)
	}
	return e.impl, nil
}

// ByName returns the code and implementation registered under name
func (r *Registry) ByName(name string) (byte, Serializer, error) {
	r.lock.RLock()
	e, ok := r.byName[name]
	r.lock.RUnlock()
	if !ok {
		return 0, nil, rpcerr.New(rpcerr.KindSerialization,
			"unknown serializer %q", name)
	}
	return e.code, e.impl, nil
}

// Names lists registered serializer names in order
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
