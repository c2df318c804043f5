// Package services contains the demo services published by the provider
// command and their typed clients.
package services

import (
	"context"

	"github.com/PwzXxm/nrpc-lite/client"
	"github.com/PwzXxm/nrpc-lite/server"
)

const (
	GreeterInterface = "org.example.service.HelloNrpc"
	greeterPrefix    = "hi consumer: "
)

var sayHelloSpec = client.MethodSpec{
	Name:       "sayHello",
	ParamTypes: []string{"string"},
	ReturnType: "string",
}

// NewGreeter answers sayHello(msg) with "hi consumer: " + msg
func NewGreeter(group string) *server.Service {
	return server.NewService(GreeterInterface, group).
		Method(sayHelloSpec.Name, sayHelloSpec.ParamTypes,
			func(ctx context.Context, args server.Args) (interface{}, error) {
				var msg string
				if err := args.Decode(0, &msg); err != nil {
					return nil, err
				}
				return greeterPrefix + msg, nil
			})
}

type GreeterClient struct {
	stub *client.Stub
}

func NewGreeterClient(c *client.Client, group string, retry client.RetryPolicy) *GreeterClient {
	spec := sayHelloSpec
	spec.Retry = retry
	return &GreeterClient{stub: c.NewStub(GreeterInterface, group, spec)}
}

func (g *GreeterClient) SayHello(ctx context.Context, msg string) (string, error) {
	var out string
	err := g.stub.Invoke(ctx, sayHelloSpec.Name, &out, msg)
	return out, err
}
