// Package raft implements the consensus state machine — term/role
// management, leader election, log replication, and commit-index
// advancement — built entirely on top of pkg/replica's Singular Update
// Queue and quorum-await primitives.
package raft

import (
	"github.com/orneryd/quorumraft/pkg/correlation"
	"github.com/orneryd/quorumraft/pkg/network"
)

// Message type names this service registers handlers for on the
// AsyncNetwork, mirroring pkg/replication/raft.go's RaftRPCType constants.
const (
	MsgRequestVote          network.MessageType = "RequestVote"
	MsgRequestVoteResponse  network.MessageType = "RequestVoteResponse"
	MsgAppendEntries        network.MessageType = "AppendEntries"
	MsgAppendEntriesResponse network.MessageType = "AppendEntriesResponse"
)

// Command is the client-facing payload Execute appends to the log.
type Command struct {
	Command []byte `json:"command"`
}

// Entry is the wire representation of a single log entry carried on an
// AppendEntries request (at most one per request, per spec.md §6).
type Entry struct {
	Command []byte `json:"command"`
	Term    uint64 `json:"term"`
	Index   uint64 `json:"index"`
}

// RequestVote is broadcast by a candidate to solicit votes.
type RequestVote struct {
	Term          uint64         `json:"term"`
	ReplicaID     uint64         `json:"replica_id"`
	LastLogIndex  uint64         `json:"last_log_index"`
	LastLogTerm   uint64         `json:"last_log_term"`
	CorrelationID correlation.ID `json:"correlation_id"`
}

// RequestVoteResponse is the asynchronous reply to RequestVote, dispatched
// as its own RPC back to the candidate's source footprint.
type RequestVoteResponse struct {
	Term          uint64         `json:"term"`
	Voted         bool           `json:"voted"`
	CorrelationID correlation.ID `json:"correlation_id"`
}

// AppendEntries replicates at most one log entry (or none, for a
// heartbeat) from the leader to one follower.
type AppendEntries struct {
	Term              uint64         `json:"term"`
	LeaderID          uint64         `json:"leader_id"`
	PreviousLogIndex  *uint64        `json:"previous_log_index,omitempty"`
	PreviousLogTerm   *uint64        `json:"previous_log_term,omitempty"`
	Entry             *Entry         `json:"entry,omitempty"`
	LeaderCommit      uint64         `json:"leader_commit"`
	CorrelationID     correlation.ID `json:"correlation_id"`
}

// AppendEntriesResponse is the asynchronous reply to AppendEntries.
type AppendEntriesResponse struct {
	Term          uint64         `json:"term"`
	Success       bool           `json:"success"`
	CorrelationID correlation.ID `json:"correlation_id"`
	LogEntryIndex *uint64        `json:"log_entry_index,omitempty"`
}
