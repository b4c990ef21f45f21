package statehandle

import (
	"bytes"
	"encoding/gob"
)

// ValueCodec encodes and decodes a single state value to and from bytes.
//
// The on-the-wire layout of an arbitrary user value is explicitly out of
// scope (§1 Non-goals: "the state-backend's byte-layout for arbitrary user
// types"); ValueCodec is the seam a caller plugs a real state backend's
// encoder into. GobCodec below is a usable default for Go-native values.
type ValueCodec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// GobCodec implements ValueCodec using the standard library's encoding/gob.
//
// gob is adequate here only because per-value encoding is explicitly out of
// scope for this module; a production state backend (heap/file/rocks-like,
// per the capability-set design note in §9) would supply its own codec.
type GobCodec struct{}

// Encode gob-encodes value.
func (GobCodec) Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode gob-decodes data into an any.
func (GobCodec) Decode(data []byte) (any, error) {
	var value any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		return nil, err
	}

	return value, nil
}
