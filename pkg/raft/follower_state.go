package raft

import (
	"sync"

	"github.com/orneryd/quorumraft/pkg/netaddr"
)

// FollowerState is held by the leader only: one next_log_index cursor per
// peer, used to drive AppendEntries replication and back off one entry at a
// time on rejection. Grounded on
// original_source/raft/src/follower_state.rs's next_log_index_by_peer map,
// translated from a DashMap to a Go mutex-guarded map — the teacher's own
// peer-state maps (pkg/replication/raft.go's nextIndex/matchIndex) use the
// same plain-map-plus-mutex idiom rather than a concurrent map type.
type FollowerState struct {
	mu               sync.RWMutex
	nextLogIndexByPeer map[netaddr.HostAndPort]uint64
}

// NewFollowerState seeds every peer's cursor at lastLogIndex+1, per
// spec.md §3's invariant `1 ≤ next_log_index ≤ last_log_index + 1`.
func NewFollowerState(peers []netaddr.HostAndPort, lastLogIndex uint64) *FollowerState {
	fs := &FollowerState{nextLogIndexByPeer: make(map[netaddr.HostAndPort]uint64, len(peers))}
	for _, peer := range peers {
		fs.nextLogIndexByPeer[peer] = lastLogIndex + 1
	}
	return fs
}

// NextLogIndex returns peer's current cursor.
func (fs *FollowerState) NextLogIndex(peer netaddr.HostAndPort) uint64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.nextLogIndexByPeer[peer]
}

// Advance moves peer's cursor forward to index+1 after an accepted
// AppendEntries at index.
func (fs *FollowerState) Advance(peer netaddr.HostAndPort, acceptedIndex uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextLogIndexByPeer[peer] = acceptedIndex + 1
}

// Backoff decrements peer's cursor by exactly one, per spec.md §4.5 ("no
// optimization in scope" — no conflict-term hinting).
func (fs *FollowerState) Backoff(peer netaddr.HostAndPort) uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.nextLogIndexByPeer[peer] > 1 {
		fs.nextLogIndexByPeer[peer]--
	}
	return fs.nextLogIndexByPeer[peer]
}

// Reset reseeds every peer's cursor, used when a new leader takes over.
func (fs *FollowerState) Reset(peers []netaddr.HostAndPort, lastLogIndex uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextLogIndexByPeer = make(map[netaddr.HostAndPort]uint64, len(peers))
	for _, peer := range peers {
		fs.nextLogIndexByPeer[peer] = lastLogIndex + 1
	}
}
