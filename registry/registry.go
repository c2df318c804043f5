// Package registry is the service discovery collaborator. Providers
// register their endpoint under (service, group); consumers look the list
// up and watch it for changes.
package registry

import (
	"strings"

	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Registry representing a key/value + watch service
type Registry interface {
	Register(service, group string, ep rpccore.Endpoint) error

	// Deregister removes an endpoint, the analog of an ephemeral node
	// disappearing with its session
	Deregister(service, group string, ep rpccore.Endpoint) error

	// Lookup returns the endpoints sorted by (host, port). An empty list
	// is not an error at this level.
	Lookup(service, group string) ([]rpccore.Endpoint, error)

	// Watch calls onChange with the full new list every time the set
	// changes. The returned function cancels the subscription.
	Watch(service, group string, onChange func([]rpccore.Endpoint)) (func(), error)

	Close() error
}

// Key joins service and group the way every backend stores them
func Key(service, group string) string {
	return service + "/" + group
}

// Open picks a backend from a connection string:
//   memory://            in-process registry
//   gorpc://host:port    standalone registry server
//   redis://host:port    redis sets + pub/sub
func Open(conn string, logger *logrus.Entry) (Registry, error) {
	scheme, addr := conn, ""
	if i := strings.Index(conn, "://"); i >= 0 {
		scheme, addr = conn[:i], conn[i+3:]
	}
	switch scheme {
	case "memory":
		return NewMemory(), nil
	case "gorpc":
		return NewRemote(addr, 0, logger), nil
	case "redis":
		return NewRedis(addr, logger)
	default:
		return nil, errors.Errorf("unsupported registry %q", conn)
	}
}

func sameEndpoints(a, b []rpccore.Endpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitKey(key string) (service, group string) {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
