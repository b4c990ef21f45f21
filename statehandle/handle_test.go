package statehandle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/statetable"
)

func TestWriter_Snapshot_RoundTrip(t *testing.T) {
	src := statetable.New()
	src.Put(1, "ns", "a", "va")
	src.Put(1, "ns", "b", "vb")
	src.Put(2, "ns", "c", "vc")
	// kg 3 intentionally has no entries: must round-trip as empty.

	w := NewWriter()
	modified := map[keygroup.ID]bool{1: true, 2: true}

	h, err := w.Snapshot(src, []keygroup.ID{1, 2, 3}, modified)
	require.NoError(t, err)
	require.NoError(t, h.Validate())

	require.Equal(t, []bool{true, true, false}, h.Modified)
	require.True(t, h.Offsets[0] <= h.Offsets[1])
	require.True(t, h.Offsets[1] <= h.Offsets[2])

	dst := statetable.New()
	r := NewReader()
	require.NoError(t, r.Ingest(dst, h))

	v, ok := dst.Get(1, "ns", "a")
	require.True(t, ok)
	require.Equal(t, "va", v)

	v, ok = dst.Get(2, "ns", "c")
	require.True(t, ok)
	require.Equal(t, "vc", v)

	require.Empty(t, dst.Changelog(), "ingest must not dirty the destination's changelog")
}

func TestHandle_RoundTrip_PreservesAllQuadruples(t *testing.T) {
	src := statetable.New()
	src.Put(9, "list", "e1", 1)
	src.Put(9, "list", "e2", 2)
	src.Put(9, "map", "e1", "x")

	w := NewWriter()
	h, err := w.Snapshot(src, []keygroup.ID{9}, map[keygroup.ID]bool{9: true})
	require.NoError(t, err)

	dst := statetable.New()
	require.NoError(t, NewReader().Ingest(dst, h))

	require.ElementsMatch(t, src.Entries(9), dst.Entries(9))
}

func TestIngest_Idempotent(t *testing.T) {
	src := statetable.New()
	src.Put(4, "ns", "k", "v")

	h, err := NewWriter().Snapshot(src, []keygroup.ID{4}, nil)
	require.NoError(t, err)

	dst := statetable.New()
	r := NewReader()
	require.NoError(t, r.Ingest(dst, h))
	first := dst.Entries(4)

	require.NoError(t, r.Ingest(dst, h))
	second := dst.Entries(4)

	require.ElementsMatch(t, first, second)
}

func TestEmpty_StripsPayloadsKeepsOffsets(t *testing.T) {
	src := statetable.New()
	src.Put(1, "ns", "a", "va")

	full, err := NewWriter().Snapshot(src, []keygroup.ID{1, 2}, map[keygroup.ID]bool{1: true})
	require.NoError(t, err)

	summary := Empty(full)

	require.Equal(t, full.KeyGroups, summary.KeyGroups)
	require.Equal(t, full.Modified, summary.Modified)
	require.NoError(t, summary.Validate())

	for i := range summary.KeyGroups {
		payload, err := summary.Slice(i)
		require.NoError(t, err)
		require.LessOrEqual(t, len(payload), kgHeaderSize)
	}
}

func TestHandle_Validate_DetectsHeaderMismatch(t *testing.T) {
	src := statetable.New()
	src.Put(1, "ns", "a", "v")

	h, err := NewWriter().Snapshot(src, []keygroup.ID{1}, nil)
	require.NoError(t, err)

	// Corrupt the header in place.
	h.Bytes[0] = ^h.Bytes[0]

	require.Error(t, h.Validate())
}
