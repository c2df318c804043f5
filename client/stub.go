package client

import (
	"context"

	"github.com/PwzXxm/nrpc-lite/rpcerr"
)

// MethodSpec declares one remote method of a stub
type MethodSpec struct {
	Name       string
	ParamTypes []string
	ReturnType string
	Retry      RetryPolicy
}

// Stub is the client for one service interface, built once from its
// method table
type Stub struct {
	client  *Client
	service string
	group   string
	methods map[string]MethodSpec
}

func (c *Client) NewStub(service, group string, methods ...MethodSpec) *Stub {
	s := &Stub{client: c, service: service, group: group,
		methods: make(map[string]MethodSpec, len(methods))}
	for _, m := range methods {
		s.methods[m.Name] = m
	}
	return s
}

func (s *Stub) Service() string { return s.service }
func (s *Stub) Group() string   { return s.group }

// Invoke calls method with args and decodes the result into out, which
// may be nil when the result is not needed
func (s *Stub) Invoke(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	spec, ok := s.methods[method]
	if !ok {
		return rpcerr.New(rpcerr.KindNotFound, "%v has no method %v", s.service, method)
	}
	if len(args) != len(spec.ParamTypes) {
		return rpcerr.New(rpcerr.KindNotFound, "%v.%v takes %v arguments, got %v",
			s.service, method, len(spec.ParamTypes), len(args))
	}
	call := Call{
		Service:    s.service,
		Group:      s.group,
		Method:     spec.Name,
		ParamTypes: spec.ParamTypes,
		Args:       args,
		ReturnType: spec.ReturnType,
	}
	return s.client.executeWithRetry(ctx, spec.Retry, func() error {
		res, err := s.client.Invoke(ctx, call)
		if err != nil {
			return err
		}
		return s.client.codec.DecodeBody(res, out)
	})
}
