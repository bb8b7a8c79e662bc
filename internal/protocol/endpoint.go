// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	// NetworkUnix is the endpoint scheme for unix domain sockets.
	NetworkUnix = "unix"
	// NetworkTCP is the endpoint scheme for loopback TCP.
	NetworkTCP = "tcp"
)

// ErrInvalidEndpoint is returned for endpoints that are not "scheme:address".
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is a dialable worker address such as "unix:/tmp/w.sock" or
// "tcp:127.0.0.1:0".
type Endpoint struct {
	Network string
	Address string
}

// ParseEndpoint parses "scheme:address".
func ParseEndpoint(s string) (Endpoint, error) {
	network, address, ok := strings.Cut(s, ":")
	if !ok || address == "" {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, s)
	}
	switch network {
	case NetworkUnix, NetworkTCP:
		return Endpoint{Network: network, Address: address}, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, network)
	}
}

// String formats the endpoint as "scheme:address".
func (e Endpoint) String() string {
	return e.Network + ":" + e.Address
}

// Listen opens a listener on e. The returned Endpoint carries the bound
// address, which differs from e when a TCP port of 0 was requested.
func Listen(ctx context.Context, e Endpoint) (net.Listener, Endpoint, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, e.Network, e.Address)
	if err != nil {
		return nil, Endpoint{}, fmt.Errorf("failed to listen on %s: %w", e, err)
	}
	return ln, Endpoint{Network: e.Network, Address: ln.Addr().String()}, nil
}

// Dial connects to e and wraps the connection in a Conn.
func Dial(ctx context.Context, e Endpoint) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, e.Network, e.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", e, err)
	}
	return NewConn(c), nil
}
