package raft

import (
	"testing"

	"github.com/orneryd/quorumraft/pkg/netaddr"
	"github.com/stretchr/testify/require"
)

func TestNewFollowerStateSeedsAtLastIndexPlusOne(t *testing.T) {
	peers := []netaddr.HostAndPort{netaddr.New("127.0.0.1", 9001), netaddr.New("127.0.0.1", 9002)}
	fs := NewFollowerState(peers, 4)

	require.Equal(t, uint64(5), fs.NextLogIndex(peers[0]))
	require.Equal(t, uint64(5), fs.NextLogIndex(peers[1]))
}

func TestAdvanceSetsCursorPastAcceptedIndex(t *testing.T) {
	peer := netaddr.New("127.0.0.1", 9001)
	fs := NewFollowerState([]netaddr.HostAndPort{peer}, 0)

	fs.Advance(peer, 3)

	require.Equal(t, uint64(4), fs.NextLogIndex(peer))
}

func TestBackoffDecrementsButNeverBelowOne(t *testing.T) {
	peer := netaddr.New("127.0.0.1", 9001)
	fs := NewFollowerState([]netaddr.HostAndPort{peer}, 0)

	fs.Backoff(peer) // starts at 1, stays at 1
	require.Equal(t, uint64(1), fs.NextLogIndex(peer))

	fs.Advance(peer, 2)
	require.Equal(t, uint64(3), fs.NextLogIndex(peer))
	fs.Backoff(peer)
	require.Equal(t, uint64(2), fs.NextLogIndex(peer))
}
