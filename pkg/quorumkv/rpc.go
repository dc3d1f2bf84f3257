// Package quorumkv implements the quorum key-value example: a simpler
// consensus variant than Raft, built on the same Replica/correlation/
// quorum-await primitives, using per-key last-write-wins timestamps instead
// of a replicated log.
package quorumkv

import (
	"github.com/orneryd/quorumraft/pkg/correlation"
	"github.com/orneryd/quorumraft/pkg/network"
)

const (
	MsgVersionedPut         network.MessageType = "VersionedPutKeyValueRequest"
	MsgPutResponse           network.MessageType = "PutKeyValueResponse"
	MsgVersionedGet          network.MessageType = "VersionedGetValueByKeyRequest"
	MsgGetResponse           network.MessageType = "GetValueByKeyResponse"
)

// VersionedPutKeyValueRequest asks a replica to store value under key at
// timestamp, last-write-wins against whatever it currently holds.
type VersionedPutKeyValueRequest struct {
	Key           string         `json:"key"`
	Value         string         `json:"value"`
	Timestamp     uint64         `json:"timestamp"`
	CorrelationID correlation.ID `json:"correlation_id"`
}

// PutKeyValueResponse acknowledges a put attempt.
type PutKeyValueResponse struct {
	Success       bool           `json:"success"`
	Timestamp     uint64         `json:"timestamp"`
	CorrelationID correlation.ID `json:"correlation_id"`
}

// VersionedGetValueByKeyRequest asks a replica for its current value of
// key.
type VersionedGetValueByKeyRequest struct {
	Key           string         `json:"key"`
	CorrelationID correlation.ID `json:"correlation_id"`
}

// GetValueByKeyResponse returns a replica's current (value, timestamp) for
// a key. Found is false if the replica has never seen the key.
type GetValueByKeyResponse struct {
	Value         string         `json:"value"`
	Timestamp     uint64         `json:"timestamp"`
	Found         bool           `json:"found"`
	CorrelationID correlation.ID `json:"correlation_id"`
}
