// Package network implements the Async Network: sending a typed request to
// a target HostAndPort, optionally stamping the sender's own address into
// the request as a "source footprint" so the recipient can route its
// eventual, separately-sent response back.
//
// Every RPC in this toolkit — RequestVote, AppendEntries, the quorum KV
// GET/PUT family — rides over the same length-delimited binary framing
// implemented here, the way pkg/replication/transport.go framed its own
// ClusterMessage traffic in the teacher.
package network

import (
	"encoding/json"

	"github.com/orneryd/quorumraft/pkg/correlation"
)

// MessageType names an RPC payload kind. The Raft service and the quorum KV
// example each register their own handlers under their own type names
// ("RequestVote", "AppendEntriesResponse", "VersionedPut", ...), so the
// wire format itself stays generic.
type MessageType string

// Envelope is the on-wire message: a typed, correlated payload plus an
// optional source footprint. The encoding is length-delimited JSON (see
// codec.go) — semantically a length-delimited binary framing over a
// streamable transport, per spec.md §6.
type Envelope struct {
	Type          MessageType     `json:"type"`
	CorrelationID correlation.ID  `json:"correlation_id"`
	ReferralHost  string          `json:"referral_host,omitempty"`
	ReferralPort  uint16          `json:"referral_port,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Encode marshals payload into the envelope.
func Encode(msgType MessageType, id correlation.ID, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, CorrelationID: id, Payload: raw}, nil
}

// Decode unmarshals the envelope's payload into dst. Callers always know
// the expected payload type for a given MessageType and downcast into it
// here — the type-erasure point spec.md §9 calls out explicitly.
func (e Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}
