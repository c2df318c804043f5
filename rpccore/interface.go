/*
 * Project: nrpc-lite
 * ---------------------
 * Authors:
 *   Minjian Chen 813534
 *   Shijie Liu   813277
 *   Weizhi Xu    752454
 *   Wenqing Xue  813044
 *   Zijun Chen   813190
 */

// Package rpccore provides an abstract layer of the low level network.
// Framing, serialization and dispatching are implemented in the upper
// levels. There are two implementations, one is based on TCP and the other
// one is an in-memory version based on pipes for testing.
package rpccore

import (
	"context"
	"net"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Endpoint representing one provider instance. Two endpoints are equal if
// host and port are equal, so it can be used as a map key.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint parses "host:port"
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, errors.WithStack(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, errors.Errorf("invalid port in endpoint %q", s)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// SortEndpoints orders endpoints by (host, port) in place
func SortEndpoints(eps []Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Host != eps[j].Host {
			return eps[i].Host < eps[j].Host
		}
		return eps[i].Port < eps[j].Port
	})
}

// Network representing a way to reach and expose endpoints
type Network interface {
	// Dial opens a connection to the endpoint, honouring ctx for the
	// connection establishment only
	Dial(ctx context.Context, target Endpoint) (net.Conn, error)

	// Listen exposes the endpoint and accepts inbound connections
	Listen(local Endpoint) (net.Listener, error)
}

// CallerKey identifies the remote side of an accepted connection for
// per-caller bookkeeping. The port is dropped so reconnecting callers keep
// their identity.
func CallerKey(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
