package raft

import (
	"context"
	"log"
	"time"

	"github.com/orneryd/quorumraft/pkg/correlation"
	"github.com/orneryd/quorumraft/pkg/netaddr"
	"github.com/orneryd/quorumraft/pkg/replica"
)

// heartbeatLoop drives periodic AppendEntries to every peer while this
// replica remains leader for term. It stops the instant the role changes
// or term moves on, or the Node itself is stopped — grounded on
// pkg/replication/raft.go's runHeartbeats/sendHeartbeatsToAllPeers pair.
func (n *Node) heartbeatLoop(term uint64) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	n.replicateToAllPeers(term)

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			if n.state.Term() != term || n.state.RoleNow() != Leader {
				return
			}
			n.replicateToAllPeers(term)
		}
	}
}

// replicateToAllPeers fans out one AppendEntries round to every peer
// concurrently; each peer's send/retry sequence is independent, per
// spec.md §4.5's per-peer replication loop.
func (n *Node) replicateToAllPeers(term uint64) {
	for _, peer := range n.r.Peers() {
		peer := peer
		go n.replicateToPeer(context.Background(), peer, term)
	}
}

// replicateToPeer sends the peer's next pending entry (or a bare heartbeat
// if the peer is caught up), processes the response, and on each rejection
// backs the peer's cursor off by one entry and retries — mirroring pkg/replication/raft.go's
// replicateLogToPeer, generalized to pkg/replica's correlation primitives.
func (n *Node) replicateToPeer(ctx context.Context, peer netaddr.HostAndPort, term uint64) {
	if n.state.Term() != term || n.state.RoleNow() != Leader {
		return
	}

	nextIndex := n.follower.NextLogIndex(peer)
	replicatedLog := n.state.Log()

	var entry *Entry
	if logEntry, ok := replicatedLog.Get(nextIndex); ok {
		entry = &Entry{Command: logEntry.Bytes, Term: logEntry.Term, Index: logEntry.Index}
	}

	prevIndex, prevTerm := n.previousLogIndexTerm(nextIndex)

	commitIndex, _ := replicatedLog.CommitIndex()
	id := correlation.New()

	req := AppendEntries{
		Term:             term,
		LeaderID:         uint64(n.r.ID()),
		PreviousLogIndex: prevIndex,
		PreviousLogTerm:  prevTerm,
		Entry:            entry,
		LeaderCommit:     commitIndex,
		CorrelationID:    id,
	}

	resp, err := n.r.SendToReplicaAndAwait(ctx, peer, id, n.cfg.HeartbeatInterval*4, MsgAppendEntries, req)
	if err != nil {
		return
	}

	var aer AppendEntriesResponse
	if decodeErr := resp.Payload.Decode(&aer); decodeErr != nil {
		log.Printf("[raft %d] malformed AppendEntriesResponse from %s: %v", n.r.ID(), peer, decodeErr)
		return
	}

	retryCh := make(chan bool, 1)
	n.r.SubmitAsync(func(subCtx context.Context) {
		retryCh <- n.applyAppendEntriesResponse(peer, term, entry, aer)
	})

	select {
	case retry := <-retryCh:
		if retry {
			n.replicateToPeer(ctx, peer, term)
		}
	case <-n.stopCh:
	}
}

// applyAppendEntriesResponse runs on the SUQ worker: it steps down on a
// higher term, advances or backs off the peer's cursor, increments the
// entry's ack count on success, and advances the commit index once a
// quorum of acks exists for a current-term entry. Returns whether the
// leader should immediately retry this peer (log-matching rejection).
func (n *Node) applyAppendEntriesResponse(peer netaddr.HostAndPort, term uint64, sentEntry *Entry, resp AppendEntriesResponse) bool {
	if n.state.ObserveTerm(resp.Term) {
		return false
	}
	if n.state.Term() != term || n.state.RoleNow() != Leader {
		return false
	}

	if !resp.Success {
		n.follower.Backoff(peer)
		return true
	}

	if sentEntry == nil {
		if resp.LogEntryIndex != nil {
			n.follower.Advance(peer, *resp.LogEntryIndex)
		}
		return false
	}

	n.follower.Advance(peer, sentEntry.Index)
	replicatedLog := n.state.Log()
	acks := replicatedLog.IncrementAcks(sentEntry.Index)

	if sentEntry.Term != term {
		return false
	}

	needed := replica.QuorumSize(n.r.ClusterSize())
	if int(acks) >= needed {
		replicatedLog.AdvanceCommitIndex(sentEntry.Index)
	}

	return false
}

// previousLogIndexTerm returns the index/term pair immediately preceding
// nextIndex, for the AppendEntries consistency check. A nextIndex of 1 (no
// preceding entry) reports no previous index at all, treating the 1-based
// dense log's index-0 boundary as equivalent to the wire-level "none".
func (n *Node) previousLogIndexTerm(nextIndex uint64) (*uint64, *uint64) {
	if nextIndex <= 1 {
		return nil, nil
	}
	prevIndex := nextIndex - 1
	prevTerm, ok := n.state.Log().TermAt(prevIndex)
	if !ok {
		return nil, nil
	}
	return &prevIndex, &prevTerm
}
