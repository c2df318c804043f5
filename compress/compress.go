// Package compress holds the pluggable compressors, registered under the
// numeric code carried in the frame header.
package compress

import (
	"sort"

	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/sasha-s/go-deadlock"
)

const (
	CodeNone byte = 0
	CodeGzip byte = 1
	CodeZlib byte = 2
)

// Compressor compresses and decompresses whole payloads
type Compressor interface {
	Compress(in []byte) ([]byte, error)
	Decompress(in []byte) ([]byte, error)
}

type entry struct {
	code byte
	name string
	impl Compressor
}

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

// Default returns a registry with none, gzip and zlib registered
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(CodeNone, "none", None{})
	_ = r.Register(CodeGzip, "gzip", Gzip{})
	_ = r.Register(CodeZlib, "zlib", Zlib{})
	return r
}

func (r *Registry) Register(code byte, name string, c Compressor) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.byCode[code]; ok {
		return rpcerr.New(rpcerr.KindSerialization,
			"compressor code %d already registered", code)
	}
	if _, ok := r.byName[name]; ok {
		return rpcerr.New(rpcerr.KindSerialization,
			"compressor %q already registered", name)
	}
	e := &entry{code: code, name: name, impl: c}
	r.byCode[code] = e
	r.byName[name] = e
	return nil
}

func (r *Registry) ByCode(code byte) (Compressor, error) {
	r.lock.RLock()
	e, ok := r.byCode[code]
	r.lock.RUnlock()
	if !ok {
		return nil, rpcerr.New(rpcerr.KindSerialization,
			"unknown compressor code %d", code)
	}
	return e.impl, nil
}

func (r *Registry) ByName(name string) (byte, Compressor, error) {
	r.lock.RLock()
	e, ok := r.byName[name]
	r.lock.RUnlock()
	if !ok {
		return 0, nil, rpcerr.New(rpcerr.KindSerialization,
			"unknown compressor %q", name)
	}
	return e.code, e.impl, nil
}

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
