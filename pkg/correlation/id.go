// Package correlation provides the 128-bit CorrelationId used to match an
// asynchronous RPC response back to the request that caused it.
package correlation

import (
	"github.com/google/uuid"
)

// ID is a 128-bit value, collision-free for practical purposes, carried on
// every RPC so its eventual response (arriving on an unrelated goroutine,
// possibly much later) can be matched back to the pending slot that is
// awaiting it.
type ID [16]byte

// Zero is the zero-value ID, never produced by New.
var Zero ID

// New generates a fresh random correlation id.
func New() ID {
	return ID(uuid.New())
}

// String renders the id in canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText implements encoding.TextMarshaler so an ID can be embedded in
// a JSON RPC payload as a plain string field.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := uuid.ParseBytes(text)
	if err != nil {
		return err
	}
	*id = ID(parsed)
	return nil
}
