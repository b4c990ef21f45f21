package statetable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spacker/keygroup"
)

func TestTable_PutGetRemove(t *testing.T) {
	tbl := New()

	_, ok := tbl.Get(3, "ns", "k1")
	require.False(t, ok)

	tbl.Put(3, "ns", "k1", "v1")
	v, ok := tbl.Get(3, "ns", "k1")
	require.True(t, ok)
	require.Equal(t, "v1", v)

	require.ElementsMatch(t, []keygroup.ID{3}, tbl.Changelog())

	tbl.Remove(3, "ns", "k1")
	_, ok = tbl.Get(3, "ns", "k1")
	require.False(t, ok)
}

func TestTable_ReleaseChangelogs(t *testing.T) {
	tbl := New()
	tbl.Put(1, "ns", "a", 1)
	tbl.Put(2, "ns", "b", 2)

	require.ElementsMatch(t, []keygroup.ID{1, 2}, tbl.Changelog())

	tbl.ReleaseChangelogs([]keygroup.ID{1})

	require.ElementsMatch(t, []keygroup.ID{2}, tbl.Changelog())
	_, ok := tbl.Get(1, "ns", "a")
	require.False(t, ok, "released kg must drop its in-memory entries")
}

func TestTable_ClearChangelog(t *testing.T) {
	tbl := New()
	tbl.Put(5, "ns", "a", "v")

	tbl.ClearChangelog([]keygroup.ID{5})

	require.Empty(t, tbl.Changelog())
	v, ok := tbl.Get(5, "ns", "a")
	require.True(t, ok, "clearing changelog keeps in-memory state")
	require.Equal(t, "v", v)
}

func TestTable_Ingest(t *testing.T) {
	tbl := New()

	tbl.Ingest(7, []Entry{
		{Namespace: "ns", UserKey: "x", Value: 1},
		{Namespace: "ns", UserKey: "y", Value: 2},
	})

	require.Empty(t, tbl.Changelog(), "ingest must not dirty the changelog")

	v, ok := tbl.Get(7, "ns", "x")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestTable_Entries(t *testing.T) {
	tbl := New()
	tbl.Put(2, "ns1", "a", 10)
	tbl.Put(2, "ns2", "b", 20)

	entries := tbl.Entries(2)
	require.Len(t, entries, 2)
}
