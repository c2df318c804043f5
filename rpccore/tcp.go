package rpccore

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// TCPNetwork dials and listens on real sockets
type TCPNetwork struct {
	dialer net.Dialer
}

func NewTCPNetwork(keepAlive time.Duration) *TCPNetwork {
	n := new(TCPNetwork)
	n.dialer.KeepAlive = keepAlive
	return n
}

func (n *TCPNetwork) Dial(ctx context.Context, target Endpoint) (net.Conn, error) {
	conn, err := n.dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return nil, errors.Wrapf(err, "dial %v", target)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

func (n *TCPNetwork) Listen(local Endpoint) (net.Listener, error) {
	l, err := net.Listen("tcp", local.String())
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %v", local)
	}
	return l, nil
}

// ListenerEndpoint returns the endpoint a listener ended up bound to, which
// is useful when listening on port 0
func ListenerEndpoint(l net.Listener) (Endpoint, error) {
	return ParseEndpoint(l.Addr().String())
}
