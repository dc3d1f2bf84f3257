package network

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultMaxEnvelopeSize bounds a single decoded frame to guard against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const DefaultMaxEnvelopeSize = 64 * 1024 * 1024

// frame wraps an Envelope with a connection-local request id used only to
// match a Send call with its immediate transport-level ack on the same TCP
// connection — distinct from the application-level CorrelationID, which
// survives across the separate, later RPC that carries the real logical
// response (spec.md §6: every RPC "→ empty ack").
type frame struct {
	RPCID uint64  `json:"rpc_id"`
	Ack   bool    `json:"ack"`
	Env   Envelope `json:"env"`
}

// writeFrame frames f as a 4-byte big-endian length prefix followed by its
// JSON encoding, matching pkg/replication/transport.go's writeClusterMessage.
func writeFrame(w *bufio.Writer, f *frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r *bufio.Reader, maxSize int) (*frame, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if maxSize > 0 && int(length) > maxSize {
		return nil, fmt.Errorf("network: frame too large: %d > %d", length, maxSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
