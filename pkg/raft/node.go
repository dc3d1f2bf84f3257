package raft

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/orneryd/quorumraft/pkg/correlation"
	"github.com/orneryd/quorumraft/pkg/netaddr"
	"github.com/orneryd/quorumraft/pkg/network"
	"github.com/orneryd/quorumraft/pkg/queue"
	"github.com/orneryd/quorumraft/pkg/replica"
)

// Node wires a Replica's SUQ and AsyncNetwork up to the Raft state machine:
// it registers the four RPC handlers spec.md §4.7 calls for, runs the
// election-timeout watchdog, and drives heartbeats while leader. Grounded
// on pkg/replication/raft.go's RaftReplicator, generalized to route every
// RPC through pkg/replica's correlation/quorum-await primitives instead of
// RaftReplicator's own inlined PeerConnection plumbing.
type Node struct {
	r        *replica.Replica
	state    *State
	follower *FollowerState
	cfg      Config
	rnd      *rand.Rand

	heartbeatSignal chan struct{}
	stopCh          chan struct{}
	wg              sync.WaitGroup
	started         bool
	mu              sync.Mutex
}

// NewNode constructs a Node bound to r, with a fresh Follower-at-term-0
// State and an empty ReplicatedLog.
func NewNode(r *replica.Replica, cfg Config) *Node {
	log_ := NewReplicatedLog()
	n := &Node{
		r:               r,
		state:           NewState(r.Clock(), log_),
		follower:        NewFollowerState(r.Peers(), 0),
		cfg:             cfg,
		rnd:             rand.New(rand.NewSource(int64(r.ID()) + 1)),
		heartbeatSignal: make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
	n.registerHandlers()
	return n
}

func (n *Node) State() *State { return n.state }

func (n *Node) registerHandlers() {
	net := n.r.Network()
	net.RegisterHandler(MsgRequestVote, n.handleRequestVote)
	net.RegisterHandler(MsgRequestVoteResponse, n.handleRequestVoteResponse)
	net.RegisterHandler(MsgAppendEntries, n.handleAppendEntries)
	net.RegisterHandler(MsgAppendEntriesResponse, n.handleAppendEntriesResponse)
}

// Start launches the election-timeout watchdog. Call once the Node's
// AsyncNetwork is listening.
func (n *Node) Start() {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return
	}
	n.started = true
	n.mu.Unlock()

	n.wg.Add(1)
	go n.runElectionTimer()
}

// Stop halts the election-timeout watchdog and any running heartbeat loop.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.started = false
	n.mu.Unlock()

	close(n.stopCh)
	n.wg.Wait()
}

func (n *Node) randomElectionTimeout() time.Duration {
	min := n.cfg.ElectionTimeoutMin
	max := n.cfg.ElectionTimeoutMax
	if max <= min {
		return min
	}
	return min + time.Duration(n.rnd.Int63n(int64(max-min)))
}

func (n *Node) signalHeartbeat() {
	select {
	case n.heartbeatSignal <- struct{}{}:
	default:
	}
}

// runElectionTimer is the follower-side watchdog: absence of a heartbeat
// signal for longer than a randomized election timeout starts a new
// election, mirroring pkg/replication/raft.go's runElectionTimer.
func (n *Node) runElectionTimer() {
	defer n.wg.Done()

	timer := time.NewTimer(n.randomElectionTimeout())
	defer timer.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-n.heartbeatSignal:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(n.randomElectionTimeout())
		case <-timer.C:
			if n.state.RoleNow() != Leader {
				if err := n.StartElection(context.Background()); err != nil {
					log.Printf("[raft %d] election submission failed: %v", n.r.ID(), err)
				}
			}
			timer.Reset(n.randomElectionTimeout())
		}
	}
}

// StartElection enqueues a single election round onto the Replica's SUQ.
// Safe to call directly (tests drive elections this way per scenario S1).
func (n *Node) StartElection(ctx context.Context) error {
	return n.r.Submit(func(subCtx context.Context) {
		n.runElection(subCtx)
	})
}

// runElection implements spec.md §4.4, steps 1-5. It executes on the SUQ
// worker and may suspend awaiting quorum, per the Singular Update Queue's
// contract.
func (n *Node) runElection(ctx context.Context) {
	term := n.state.BecomeCandidate(n.r.ID())
	clusterSize := n.r.ClusterSize()
	neededVotes := replica.QuorumSize(clusterSize)

	log.Printf("[raft %d] starting election for term %d", n.r.ID(), term)

	if clusterSize == 1 {
		n.becomeLeader(term)
		return
	}

	lastIndex := n.state.Log().LastIndex()
	lastTerm := n.state.Log().LastTerm()
	id := correlation.New()

	awaitSize := neededVotes - 1 // self already counted as one vote
	if awaitSize < 0 {
		awaitSize = 0
	}

	responses, _ := n.r.SendToReplicasAndAwaitQuorum(ctx, id, awaitSize, n.cfg.QuorumAwaitTimeout, func(netaddr.HostAndPort) (network.MessageType, any) {
		return MsgRequestVote, RequestVote{
			Term:          term,
			ReplicaID:     uint64(n.r.ID()),
			LastLogIndex:  lastIndex,
			LastLogTerm:   lastTerm,
			CorrelationID: id,
		}
	})

	granted := 1 // self
	var higherTerm uint64
	for _, resp := range responses {
		if resp.Err != nil {
			continue
		}
		var vr RequestVoteResponse
		if err := resp.Payload.Decode(&vr); err != nil {
			continue
		}
		if vr.Term > higherTerm {
			higherTerm = vr.Term
		}
		if vr.Voted {
			granted++
		}
	}

	if higherTerm > term {
		n.state.ObserveTerm(higherTerm)
		return
	}

	if granted >= neededVotes && n.state.Term() == term && n.state.RoleNow() == Candidate {
		n.becomeLeader(term)
		return
	}

	log.Printf("[raft %d] election for term %d did not reach quorum (%d/%d)", n.r.ID(), term, granted, neededVotes)
}

func (n *Node) becomeLeader(term uint64) {
	n.state.BecomeLeader(term)
	lastIndex := n.state.Log().LastIndex()
	n.follower.Reset(n.r.Peers(), lastIndex)

	log.Printf("[raft %d] became leader for term %d", n.r.ID(), term)

	n.wg.Add(1)
	go n.heartbeatLoop(term)
}

// handleRequestVote is the thin RPC entry point: decode, recover the
// footprint, enqueue the real work, ack immediately.
func (n *Node) handleRequestVote(ctx context.Context, env network.Envelope) (*network.Envelope, error) {
	var req RequestVote
	if err := env.Decode(&req); err != nil {
		return nil, err
	}
	footprint, err := network.Footprint(env)
	if err != nil {
		return nil, err
	}
	n.r.SubmitAsync(func(subCtx context.Context) {
		n.processRequestVote(subCtx, footprint, req)
	})
	return nil, nil
}

func (n *Node) processRequestVote(ctx context.Context, from netaddr.HostAndPort, req RequestVote) {
	n.state.ObserveTerm(req.Term)

	term := n.state.Term()
	voted := false

	if req.Term >= term {
		lastIndex := n.state.Log().LastIndex()
		lastTerm := n.state.Log().LastTerm()
		logUpToDate := req.LastLogTerm > lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)

		if logUpToDate && n.state.TryVote(replica.ID(req.ReplicaID)) {
			voted = true
			n.state.MarkHeartbeatReceived()
			n.signalHeartbeat()
			log.Printf("[raft %d] granted vote to %d for term %d", n.r.ID(), req.ReplicaID, req.Term)
		}
	}

	resp := RequestVoteResponse{Term: n.state.Term(), Voted: voted, CorrelationID: req.CorrelationID}
	if _, err := n.r.Network().SendWithSourceFootprint(ctx, from, MsgRequestVoteResponse, req.CorrelationID, resp); err != nil {
		log.Printf("[raft %d] send RequestVoteResponse to %s failed: %v", n.r.ID(), from, err)
	}
}

// handleRequestVoteResponse resolves the pending slot a candidate's
// SendToReplicasAndAwaitQuorum registered for the responding peer.
func (n *Node) handleRequestVoteResponse(ctx context.Context, env network.Envelope) (*network.Envelope, error) {
	footprint, err := network.Footprint(env)
	if err != nil {
		return nil, err
	}
	n.r.RegisterResponse(env.CorrelationID, footprint, replica.Response{Peer: footprint, Payload: env})
	return nil, nil
}

func (n *Node) handleAppendEntriesResponse(ctx context.Context, env network.Envelope) (*network.Envelope, error) {
	footprint, err := network.Footprint(env)
	if err != nil {
		return nil, err
	}
	n.r.RegisterResponse(env.CorrelationID, footprint, replica.Response{Peer: footprint, Payload: env})
	return nil, nil
}

// handleAppendEntries is the follower-side thin RPC entry point.
func (n *Node) handleAppendEntries(ctx context.Context, env network.Envelope) (*network.Envelope, error) {
	var req AppendEntries
	if err := env.Decode(&req); err != nil {
		return nil, err
	}
	footprint, err := network.Footprint(env)
	if err != nil {
		return nil, err
	}
	n.r.SubmitAsync(func(subCtx context.Context) {
		n.processAppendEntries(subCtx, footprint, req)
	})
	return nil, nil
}

// processAppendEntries implements spec.md §4.5's follower handling,
// including the S4 log-matching rejection path.
func (n *Node) processAppendEntries(ctx context.Context, from netaddr.HostAndPort, req AppendEntries) {
	resp := AppendEntriesResponse{CorrelationID: req.CorrelationID}

	if req.Term < n.state.Term() {
		resp.Term = n.state.Term()
		resp.Success = false
		n.sendAppendEntriesResponse(ctx, from, resp)
		return
	}

	n.state.ObserveTerm(req.Term)
	n.state.BecomeFollower()
	n.state.MarkHeartbeatReceived()
	n.signalHeartbeat()
	resp.Term = n.state.Term()

	replicatedLog := n.state.Log()

	if req.PreviousLogIndex != nil {
		localTerm, ok := replicatedLog.TermAt(*req.PreviousLogIndex)
		if !ok || (req.PreviousLogTerm != nil && localTerm != *req.PreviousLogTerm) {
			resp.Success = false
			n.sendAppendEntriesResponse(ctx, from, resp)
			return
		}
	}

	if req.Entry != nil {
		replicatedLog.AppendReplicated(LogEntry{
			Index: req.Entry.Index,
			Term:  req.Entry.Term,
			Bytes: req.Entry.Command,
			Acks:  1,
		})
	}

	if req.LeaderCommit > 0 {
		lastIndex := replicatedLog.LastIndex()
		newCommit := req.LeaderCommit
		if newCommit > lastIndex {
			newCommit = lastIndex
		}
		if newCommit > 0 {
			replicatedLog.AdvanceCommitIndex(newCommit)
		}
	}

	resp.Success = true
	lastIndex := replicatedLog.LastIndex()
	resp.LogEntryIndex = &lastIndex
	n.sendAppendEntriesResponse(ctx, from, resp)
}

func (n *Node) sendAppendEntriesResponse(ctx context.Context, to netaddr.HostAndPort, resp AppendEntriesResponse) {
	if _, err := n.r.Network().SendWithSourceFootprint(ctx, to, MsgAppendEntriesResponse, resp.CorrelationID, resp); err != nil {
		log.Printf("[raft %d] send AppendEntriesResponse to %s failed: %v", n.r.ID(), to, err)
	}
}

// Execute implements spec.md §4.7 and §7: a leader appends the command,
// triggers replication, and waits for it to commit before returning.
func (n *Node) Execute(ctx context.Context, cmd Command) error {
	if n.state.RoleNow() != Leader {
		return ErrNotLeader
	}

	type appendOutcome struct {
		entry LogEntry
		err   error
	}
	outcome := make(chan appendOutcome, 1)

	if err := n.r.Submit(func(subCtx context.Context) {
		if n.state.RoleNow() != Leader {
			outcome <- appendOutcome{err: ErrNotLeader}
			return
		}
		term := n.state.Term()
		entry := n.state.Log().Append(term, cmd.Command)
		outcome <- appendOutcome{entry: entry}
	}); err != nil {
		return err
	}

	got := <-outcome
	if got.err != nil {
		return got.err
	}

	if n.r.ClusterSize() == 1 {
		n.state.Log().AdvanceCommitIndex(got.entry.Index)
	} else {
		n.replicateToAllPeers(got.entry.Term)
	}

	return n.awaitCommit(ctx, got.entry.Index)
}

func (n *Node) awaitCommit(ctx context.Context, index uint64) error {
	if commitIndex, ok := n.state.Log().CommitIndex(); ok && commitIndex >= index {
		return nil
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(n.cfg.QuorumAwaitTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.stopCh:
			return queue.ErrShutdown
		case <-deadline.C:
			return ErrTimeout
		case <-ticker.C:
			if commitIndex, ok := n.state.Log().CommitIndex(); ok && commitIndex >= index {
				return nil
			}
		}
	}
}
