package rpcwire

import (
	"context"
	"fmt"
	"net"
)

// PipeConnector is an in-memory Connector backed by net.Pipe, used by tests
// that want the real frame/dispatch code path without a real socket.
// Listen must be called exactly once before any Dial; each Dial blocks
// until a corresponding accept is consumed by the listener side.
type PipeConnector struct {
	dial chan net.Conn
}

// NewPipeConnector returns an unstarted in-memory Connector.
func NewPipeConnector() *PipeConnector {
	return &PipeConnector{dial: make(chan net.Conn)}
}

// Dial creates a new net.Pipe pair and hands one end to the listener.
func (c *PipeConnector) Dial(ctx context.Context) (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case c.dial <- server:
		return client, nil
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

// Listen returns a net.Listener whose Accept blocks until a Dial occurs.
func (c *PipeConnector) Listen() (net.Listener, error) {
	return &pipeListener{dial: c.dial, closed: make(chan struct{})}, nil
}

type pipeListener struct {
	dial   chan net.Conn
	closed chan struct{}
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.dial:
		return conn, nil
	case <-l.closed:
		return nil, fmt.Errorf("rpcwire: pipe listener closed")
	}
}

func (l *pipeListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *pipeListener) Addr() net.Addr { return pipeAddr{} }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
