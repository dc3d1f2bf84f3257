package raft

import (
	"sync"
	"time"

	"github.com/orneryd/quorumraft/pkg/clock"
	"github.com/orneryd/quorumraft/pkg/replica"
)

// Role is a replica's position in the term/role state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// State holds the Raft consensus variables for one Replica: term, role,
// voted_for, and the time the last heartbeat was received. Every mutation
// documented here is only ever called from inside a handler submitted to
// the owning Replica's SUQ — readers (Term, RoleNow, ...) use a mutex
// because responses dispatched off the SUQ worker still need a consistent
// snapshot, matching pkg/replication/raft.go's own `mu sync.RWMutex` split
// from its `logMu`.
type State struct {
	clk clock.Clock
	log *ReplicatedLog

	mu                   sync.RWMutex
	term                 uint64
	role                 Role
	votedFor             *replica.ID
	heartbeatReceivedAt  *time.Time
}

// NewState returns a State at term 0, Follower, no vote cast.
func NewState(clk clock.Clock, log *ReplicatedLog) *State {
	return &State{clk: clk, log: log, role: Follower}
}

func (s *State) Log() *ReplicatedLog { return s.log }

// Term returns the current term.
func (s *State) Term() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.term
}

// RoleNow returns the current role.
func (s *State) RoleNow() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// VotedFor returns who this replica voted for in the current term, if
// anyone.
func (s *State) VotedFor() (replica.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.votedFor == nil {
		return 0, false
	}
	return *s.votedFor, true
}

// HeartbeatReceivedAt returns the last time a valid leader heartbeat (or
// AppendEntries) was observed.
func (s *State) HeartbeatReceivedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.heartbeatReceivedAt == nil {
		return time.Time{}, false
	}
	return *s.heartbeatReceivedAt, true
}

// MarkHeartbeatReceived records that a message was just received from the
// current leader, resetting the election-timeout clock.
func (s *State) MarkHeartbeatReceived() {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeatReceivedAt = &now
}

// BecomeCandidate increments the term, transitions to Candidate, and votes
// for self, returning the new term. Step 1 of the election algorithm.
func (s *State) BecomeCandidate(self replica.ID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term++
	s.role = Candidate
	s.votedFor = &self
	return s.term
}

// BecomeLeader transitions to Leader for the given term. The caller (the
// election coordinator) must already hold the guarantee that term is still
// current before calling this.
func (s *State) BecomeLeader(term uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.term != term {
		return
	}
	s.role = Leader
}

// ObserveTerm applies the universal Raft rule: any message carrying a term
// higher than ours forces a transition to Follower at that term with the
// vote cleared. Returns true if a transition happened.
func (s *State) ObserveTerm(term uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if term <= s.term {
		return false
	}
	s.term = term
	s.role = Follower
	s.votedFor = nil
	return true
}

// TryVote grants a vote for candidate if this replica has not already voted
// for someone else in the current term. It does not perform the log
// up-to-dateness check — callers combine this with the candidate's log
// position per spec.md §4.4's vote-granting rule.
func (s *State) TryVote(candidate replica.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.votedFor != nil && *s.votedFor != candidate {
		return false
	}
	s.votedFor = &candidate
	return true
}

// BecomeFollower resets the role to Follower without changing the term or
// the vote already cast in it, used when
// accepting a current-term AppendEntries from the recognized leader.
func (s *State) BecomeFollower() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = Follower
}
