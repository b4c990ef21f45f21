// Package statehandle implements the KeyGroupStateHandle snapshot artifact
// (C3): a byte stream framed per key-group, with an offset table and
// per-key-group "modified" bits, as described in §4.3.
package statehandle

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/statetable"
	"github.com/arloliu/spacker/types"
)

// Handle is a snapshot artifact: a byte stream, the key-groups it covers (in
// aligned order), the byte offset of each kg's header within Bytes, and
// whether each kg was dirty when the snapshot was produced.
//
// Invariants (§3): Offsets is monotonically non-decreasing; the first 4 bytes
// at each Offsets[i] encode the kg id for validation; an empty kg is
// represented by equal offsets to the next kg (or to len(Bytes) for the last
// one).
type Handle struct {
	KeyGroups []keygroup.ID
	Offsets   []int64
	Modified  []bool
	Bytes     []byte
}

// kgHeaderSize is the size in bytes of the [kg:u32] header written before
// each key-group's payload.
const kgHeaderSize = 4

// Writer produces Handles from a statetable.Table.
//
// Writer holds no state beyond its Codec: state-backend byte layout for
// arbitrary user value types is explicitly out of scope (§1 Non-goals); the
// Codec is the pluggable seam the coordinator's caller uses to plug in
// whatever backend they have.
type Writer struct {
	Codec ValueCodec
}

// NewWriter creates a Writer using the default gob-based ValueCodec.
func NewWriter() *Writer {
	return &Writer{Codec: GobCodec{}}
}

// Snapshot writes a Handle covering exactly the given key-groups, in the
// order given (the aligned order for this snapshot), pulling entries from
// tbl. A kg with no entries is written as a zero-length payload, and its
// offset equals the next kg's offset (or len(Bytes) if it is last).
//
// modified flags which of kgs were present in tbl's changelog at the moment
// the caller took its consistent view, per the synchronous/asynchronous
// snapshot split in §5.
func (w *Writer) Snapshot(tbl *statetable.Table, kgs []keygroup.ID, modified map[keygroup.ID]bool) (*Handle, error) {
	var buf bytes.Buffer

	offsets := make([]int64, len(kgs))
	mods := make([]bool, len(kgs))

	for i, kg := range kgs {
		offsets[i] = int64(buf.Len())
		mods[i] = modified[kg]

		if err := writeKeyGroup(&buf, w.Codec, kg, tbl.Entries(kg)); err != nil {
			return nil, fmt.Errorf("statehandle: snapshot kg %d: %w", kg, err)
		}
	}

	return &Handle{
		KeyGroups: append([]keygroup.ID(nil), kgs...),
		Offsets:   offsets,
		Modified:  mods,
		Bytes:     buf.Bytes(),
	}, nil
}

// Empty produces a summary Handle with the same offsets table as full but
// zero-length payloads, keeping the coordinator's bookkeeping copy
// lightweight (§4.3 "compose to coordinator"). The real per-kg byte slices
// travel directly between source and destination tasks, never through the
// coordinator.
func Empty(full *Handle) *Handle {
	offsets := make([]int64, len(full.KeyGroups))
	for i := range offsets {
		offsets[i] = int64(i * kgHeaderSize)
	}

	var buf bytes.Buffer
	for _, kg := range full.KeyGroups {
		writeHeader(&buf, kg)
	}

	return &Handle{
		KeyGroups: append([]keygroup.ID(nil), full.KeyGroups...),
		Offsets:   offsets,
		Modified:  append([]bool(nil), full.Modified...),
		Bytes:     buf.Bytes(),
	}
}

// Slice returns the raw payload bytes for a single key-group within the
// handle, suitable for shipping directly to a destination task (§4.5 step 3)
// without re-serializing the whole handle.
func (h *Handle) Slice(i int) ([]byte, error) {
	if i < 0 || i >= len(h.Offsets) {
		return nil, fmt.Errorf("statehandle: index %d out of range", i)
	}

	start := h.Offsets[i]
	end := int64(len(h.Bytes))
	if i+1 < len(h.Offsets) {
		end = h.Offsets[i+1]
	}

	if start < 0 || end < start || end > int64(len(h.Bytes)) {
		return nil, fmt.Errorf("statehandle: corrupt offsets at index %d", i)
	}

	return h.Bytes[start:end], nil
}

// Validate checks the structural invariants of §3: offsets are monotonically
// non-decreasing, parallel slices agree in length, and (unless payloads were
// stripped by Empty) each non-empty payload's header matches its kg id.
func (h *Handle) Validate() error {
	if len(h.Offsets) != len(h.KeyGroups) || len(h.Offsets) != len(h.Modified) {
		return fmt.Errorf("statehandle: mismatched slice lengths: kgs=%d offsets=%d modified=%d",
			len(h.KeyGroups), len(h.Offsets), len(h.Modified))
	}

	for i := 1; i < len(h.Offsets); i++ {
		if h.Offsets[i] < h.Offsets[i-1] {
			return fmt.Errorf("statehandle: offsets not monotonically non-decreasing at index %d", i)
		}
	}

	for i, kg := range h.KeyGroups {
		payload, err := h.Slice(i)
		if err != nil {
			return err
		}
		if len(payload) < kgHeaderSize {
			continue // empty kg
		}
		if got := binary.LittleEndian.Uint32(payload[:kgHeaderSize]); keygroup.ID(got) != kg {
			return fmt.Errorf("statehandle: header mismatch at index %d: want kg %d, got %d", i, kg, got)
		}
	}

	return nil
}

// Checksum returns an xxh3 checksum of the handle's full byte stream, used by
// callers that want to verify a transfer was not corrupted in flight without
// round-tripping the whole payload through Validate's per-kg header check.
func (h *Handle) Checksum() uint64 {
	return xxh3.Hash(h.Bytes)
}

func writeHeader(buf *bytes.Buffer, kg keygroup.ID) {
	var hdr [kgHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(kg))
	buf.Write(hdr[:])
}

func writeKeyGroup(buf *bytes.Buffer, codec ValueCodec, kg keygroup.ID, entries []statetable.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	writeHeader(buf, kg)

	for _, e := range entries {
		valueBytes, err := codec.Encode(e.Value)
		if err != nil {
			return fmt.Errorf("encode value for ns=%s key=%s: %w", e.Namespace, e.UserKey, err)
		}

		writeLengthPrefixed(buf, []byte(e.Namespace))
		writeLengthPrefixed(buf, []byte(e.UserKey))
		writeLengthPrefixed(buf, valueBytes)
	}

	return nil
}

func writeLengthPrefixed(buf *bytes.Buffer, data []byte) {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(data))) //nolint:gosec
	buf.Write(lb[:])
	buf.Write(data)
}

// Reader decodes Handles back into a statetable.Table, implementing the
// destination side of the handle round-trip invariant in §8.
type Reader struct {
	Codec ValueCodec
}

// NewReader creates a Reader using the default gob-based ValueCodec.
func NewReader() *Reader {
	return &Reader{Codec: GobCodec{}}
}

// Ingest decodes h and writes every (kg, ns, key, value) quadruple into tbl
// via Table.Ingest, which does not dirty tbl's changelog: the destination
// receives state it did not itself modify (§4.2).
//
// Ingest is idempotent per the property in §8: decoding and re-ingesting the
// same bytes twice leaves tbl in the same state, since Table.Ingest overwrites
// by (namespace, userKey) rather than appending.
func (r *Reader) Ingest(tbl *statetable.Table, h *Handle) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrIngestFailure, err)
	}

	for i, kg := range h.KeyGroups {
		payload, err := h.Slice(i)
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrIngestFailure, err)
		}

		entries, err := r.decodeKeyGroup(payload)
		if err != nil {
			return fmt.Errorf("%w: kg %d: %w", types.ErrIngestFailure, kg, err)
		}

		tbl.Ingest(kg, entries)
	}

	return nil
}

func (r *Reader) decodeKeyGroup(payload []byte) ([]statetable.Entry, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if len(payload) < kgHeaderSize {
		return nil, fmt.Errorf("statehandle: payload shorter than header (%d bytes)", len(payload))
	}

	body := payload[kgHeaderSize:]

	var entries []statetable.Entry
	for len(body) > 0 {
		ns, rest, err := readLengthPrefixed(body)
		if err != nil {
			return nil, err
		}
		key, rest, err := readLengthPrefixed(rest)
		if err != nil {
			return nil, err
		}
		valueBytes, rest, err := readLengthPrefixed(rest)
		if err != nil {
			return nil, err
		}

		value, err := r.Codec.Decode(valueBytes)
		if err != nil {
			return nil, fmt.Errorf("decode value for ns=%s key=%s: %w", ns, key, err)
		}

		entries = append(entries, statetable.Entry{Namespace: string(ns), UserKey: string(key), Value: value})
		body = rest
	}

	return entries, nil
}

func readLengthPrefixed(data []byte) (value, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("statehandle: truncated length prefix")
	}

	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]

	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("statehandle: truncated field: want %d bytes, have %d", n, len(data))
	}

	return data[:n], data[n:], nil
}
