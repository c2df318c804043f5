package server

import (
	"context"
	"strings"

	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/serialize"
)

// Args gives a handler access to the call's arguments, each decoded with
// the serializer the caller used
type Args struct {
	types      []string
	values     [][]byte
	serializer serialize.Serializer
}

func (a Args) Len() int { return len(a.values) }

func (a Args) Types() []string { return a.types }

func (a Args) Decode(i int, out interface{}) error {
	if i < 0 || i >= len(a.values) {
		return rpcerr.New(rpcerr.KindSerialization, "argument %v out of range (%v)", i, len(a.values))
	}
	if err := a.serializer.Deserialize(a.values[i], out); err != nil {
		return rpcerr.Wrap(err, rpcerr.KindSerialization, "decode argument %v", i)
	}
	return nil
}

// Handler serves one method. The returned value is serialized as the
// response body; nil means an empty body.
type Handler func(ctx context.Context, args Args) (interface{}, error)

// Service is the registration of one interface: a table from method
// signature to handler, built before publishing
type Service struct {
	name    string
	group   string
	methods map[string]Handler
}

func NewService(interfaceName, group string) *Service {
	if group == "" {
		group = "default"
	}
	return &Service{name: interfaceName, group: group, methods: make(map[string]Handler)}
}

func (s *Service) Name() string  { return s.name }
func (s *Service) Group() string { return s.group }

// Method registers h under name(paramTypes...)
func (s *Service) Method(name string, paramTypes []string, h Handler) *Service {
	s.methods[MethodKey(name, paramTypes)] = h
	return s
}

func (s *Service) lookup(name string, paramTypes []string) (Handler, bool) {
	h, ok := s.methods[MethodKey(name, paramTypes)]
	return h, ok
}

// MethodKey is the dispatch key, e.g. "move(string,string,int)"
func MethodKey(name string, paramTypes []string) string {
	return name + "(" + strings.Join(paramTypes, ",") + ")"
}
