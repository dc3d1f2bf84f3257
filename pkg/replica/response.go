// Package replica implements the per-node runtime shared by the Raft state
// machine and the quorum key-value example: identity, a Singular Update
// Queue, a pending-responses table keyed by (correlation id, peer), and the
// broadcast-and-await-quorum primitive both consensus variants build on.
package replica

import (
	"github.com/orneryd/quorumraft/pkg/netaddr"
	"github.com/orneryd/quorumraft/pkg/network"
)

// Response is what a pending slot resolves to: either a peer's envelope or
// the error that prevented one from arriving.
type Response struct {
	Peer    netaddr.HostAndPort
	Payload network.Envelope
	Err     error
}
