// Package netaddr provides the HostAndPort value type used throughout the
// toolkit to identify replicas and stamp source footprints onto requests.
package netaddr

import (
	"fmt"
	"net"
	"strconv"
)

// HostAndPort identifies a peer by IP address and TCP port. It is a plain
// value type: equality and hashing (as a map key) are by both fields, so it
// can be used directly as a key in the pending-responses table and the
// follower-state next-log-index map.
type HostAndPort struct {
	IP   string
	Port uint16
}

// New constructs a HostAndPort from an IP string and a port.
func New(ip string, port uint16) HostAndPort {
	return HostAndPort{IP: ip, Port: port}
}

// Parse splits a "host:port" string into a HostAndPort.
func Parse(address string) (HostAndPort, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return HostAndPort{}, fmt.Errorf("netaddr: parse %q: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return HostAndPort{}, fmt.Errorf("netaddr: parse port %q: %w", portStr, err)
	}
	return HostAndPort{IP: host, Port: uint16(port)}, nil
}

// String renders the address in "host:port" form, suitable for net.Dial.
func (h HostAndPort) String() string {
	return net.JoinHostPort(h.IP, strconv.Itoa(int(h.Port)))
}

// IsZero reports whether h is the zero value (used by config.Validate to
// detect a missing bind address).
func (h HostAndPort) IsZero() bool {
	return h.IP == "" && h.Port == 0
}
