package raft

import "sync"

// LogEntry is one entry in a ReplicatedLog. Index is 1-based and dense: the
// log never has gaps. Acks counts leader-side replication acknowledgements,
// including the leader's own implicit ack.
type LogEntry struct {
	Index   uint64
	Term    uint64
	Bytes   []byte
	Acks    uint32
}

// ReplicatedLog is the ordered sequence of LogEntry plus the commit index,
// guarded by its own mutex the way pkg/replication/raft.go's RaftReplicator
// guards `log`/`commitIndex` with a dedicated logMu distinct from its role
// mutex.
type ReplicatedLog struct {
	mu          sync.RWMutex
	entries     []LogEntry // entries[i] has Index == i+1
	commitIndex uint64
	hasCommit   bool
}

// NewReplicatedLog returns an empty log.
func NewReplicatedLog() *ReplicatedLog {
	return &ReplicatedLog{}
}

// Append adds a new entry at the next dense index, for the leader appending
// a freshly received client command. acks starts at 1 (the leader counts
// itself).
func (l *ReplicatedLog) Append(term uint64, bytes []byte) LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{Index: uint64(len(l.entries)) + 1, Term: term, Bytes: bytes, Acks: 1}
	l.entries = append(l.entries, entry)
	return entry
}

// AppendReplicated truncates any conflicting suffix starting at entry.Index
// and appends entry, for a follower accepting a leader's AppendEntries. If
// the follower already has an entry at that index with the same term, this
// is a no-op (idempotent replay of the same AppendEntries).
func (l *ReplicatedLog) AppendReplicated(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := int(entry.Index) - 1
	if pos < len(l.entries) {
		if l.entries[pos].Term == entry.Term {
			return
		}
		l.entries = l.entries[:pos]
	}
	if pos > len(l.entries) {
		// Should not happen given the consistency check always runs first,
		// but guards against an out-of-order append leaving a gap.
		return
	}
	l.entries = append(l.entries, entry)
}

// Get returns the entry at index (1-based), if present.
func (l *ReplicatedLog) Get(index uint64) (LogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 1 || index > uint64(len(l.entries)) {
		return LogEntry{}, false
	}
	return l.entries[index-1], true
}

// TermAt returns the term of the entry at index, if present.
func (l *ReplicatedLog) TermAt(index uint64) (uint64, bool) {
	entry, ok := l.Get(index)
	if !ok {
		return 0, false
	}
	return entry.Term, true
}

// LastIndex returns the index of the last entry, or 0 for an empty log.
func (l *ReplicatedLog) LastIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.entries))
}

// LastTerm returns the term of the last entry, or 0 for an empty log.
func (l *ReplicatedLog) LastTerm() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

// Len returns the number of entries in the log.
func (l *ReplicatedLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// IncrementAcks bumps the ack count for the entry at index and returns the
// new count. Used by the leader on each accepted AppendEntries response.
func (l *ReplicatedLog) IncrementAcks(index uint64) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := int(index) - 1
	if pos < 0 || pos >= len(l.entries) {
		return 0
	}
	l.entries[pos].Acks++
	return l.entries[pos].Acks
}

// CommitIndex returns the current commit index and whether one has been
// set at all (an empty log has none).
func (l *ReplicatedLog) CommitIndex() (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.commitIndex, l.hasCommit
}

// AdvanceCommitIndex raises the commit index to index, if index is higher
// than the current one (commit_index never decreases).
func (l *ReplicatedLog) AdvanceCommitIndex(index uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.hasCommit || index > l.commitIndex {
		l.commitIndex = index
		l.hasCommit = true
	}
}

// Entries returns a snapshot copy of the log, for tests and diagnostics.
func (l *ReplicatedLog) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
