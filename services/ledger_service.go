package services

import (
	"context"

	"github.com/PwzXxm/nrpc-lite/client"
	"github.com/PwzXxm/nrpc-lite/server"
	"github.com/pkg/errors"
)

const LedgerInterface = "nrpc.lite.Ledger"

var (
	applySpec = client.MethodSpec{Name: "apply", ParamTypes: []string{"Action"}}
	getSpec   = client.MethodSpec{Name: "get", ParamTypes: []string{"string"}, ReturnType: "int"}
)

// NewLedgerService exposes l as apply(Action) and get(string)
func NewLedgerService(group string, l *Ledger) *server.Service {
	return server.NewService(LedgerInterface, group).
		Method(applySpec.Name, applySpec.ParamTypes,
			func(ctx context.Context, args server.Args) (interface{}, error) {
				var a Action
				if err := args.Decode(0, &a); err != nil {
					return nil, err
				}
				return nil, l.Apply(a)
			}).
		Method(getSpec.Name, getSpec.ParamTypes,
			func(ctx context.Context, args server.Args) (interface{}, error) {
				var key string
				if err := args.Decode(0, &key); err != nil {
					return nil, err
				}
				v, ok := l.Get(key)
				if !ok {
					return nil, errors.Errorf("invalid key: %v", key)
				}
				return v, nil
			})
}

// LedgerClient retries with the same action, so retried updates are
// applied once by the provider that already saw them
type LedgerClient struct {
	stub    *client.Stub
	builder *ActionBuilder
}

func NewLedgerClient(c *client.Client, group, clientID string, retry client.RetryPolicy) *LedgerClient {
	apply, get := applySpec, getSpec
	apply.Retry, get.Retry = retry, retry
	return &LedgerClient{
		stub:    c.NewStub(LedgerInterface, group, apply, get),
		builder: NewActionBuilder(clientID),
	}
}

func (l *LedgerClient) apply(ctx context.Context, a Action) error {
	return l.stub.Invoke(ctx, applySpec.Name, nil, a)
}

func (l *LedgerClient) Set(ctx context.Context, key string, value int) error {
	return l.apply(ctx, l.builder.Set(key, value))
}

func (l *LedgerClient) Incr(ctx context.Context, key string, value int) error {
	return l.apply(ctx, l.builder.Incr(key, value))
}

func (l *LedgerClient) Move(ctx context.Context, source, target string, value int) error {
	return l.apply(ctx, l.builder.Move(source, target, value))
}

func (l *LedgerClient) Get(ctx context.Context, key string) (int, error) {
	var v int
	err := l.stub.Invoke(ctx, getSpec.Name, &v, key)
	return v, err
}
