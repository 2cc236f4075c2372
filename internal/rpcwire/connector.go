package rpcwire

import (
	"context"
	"fmt"
	"net"
)

// Connector abstracts how a client reaches the server and how a server
// accepts clients, so tests can swap in an in-memory pipe for a real TCP
// socket without touching rpcclient or rpcserver.
type Connector interface {
	// Dial opens one connection to the server.
	Dial(ctx context.Context) (net.Conn, error)
	// Listen starts accepting connections.
	Listen() (net.Listener, error)
}

// TCPConnector is the reference transport: a reliable byte stream over
// TCP. Deployment is expected to constrain reachability; there is no
// built-in authentication or encryption at this layer.
type TCPConnector struct {
	Addr string
}

// NewTCPConnector returns a Connector that dials and listens on addr.
func NewTCPConnector(addr string) *TCPConnector {
	return &TCPConnector{Addr: addr}
}

// Dial opens a TCP connection to Addr.
func (c *TCPConnector) Dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("rpcwire: dial %s: %w", c.Addr, err)
	}
	return conn, nil
}

// Listen starts a TCP listener on Addr.
func (c *TCPConnector) Listen() (net.Listener, error) {
	lis, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("rpcwire: listen on %s: %w", c.Addr, err)
	}
	return lis, nil
}
