package raft

import "errors"

// ErrNotLeader is returned by Execute when this replica is not currently
// the leader; callers are expected to retry elsewhere (leader discovery is
// out of scope for this core).
var ErrNotLeader = errors.New("raft: not leader")

// ErrTimeout is returned by Execute when a client command failed to
// replicate to and commit on a quorum within the configured window.
var ErrTimeout = errors.New("raft: command did not commit before timeout")
