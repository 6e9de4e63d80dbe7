package sshutil

import (
	"context"
	"net"
)

// Conn is the part of an SSH client connection that port forwarding needs.
// *Client satisfies it; tests can substitute their own.
type Conn interface {
	// Dial opens a channel to addr as seen from the remote side.
	Dial(network, addr string) (net.Conn, error)

	// Wait blocks until the underlying connection closes.
	Wait() error

	Close() error
}

// Connector opens Conns; Dial is the production implementation.
type Connector func(ctx context.Context, spec ConnectionSpec) (Conn, error)

// DialConn adapts Dial to a Connector.
func DialConn(ctx context.Context, spec ConnectionSpec) (Conn, error) {
	client, err := Dial(ctx, spec)
	if err != nil {
		return nil, err
	}
	return client, nil
}

var _ Conn = (*Client)(nil)
