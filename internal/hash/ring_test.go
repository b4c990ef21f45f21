package hash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRing(t *testing.T) {
	ids := []string{"subtask-0", "subtask-1", "subtask-2"}
	ring := NewRing(ids, 100, 0)

	require.NotNil(t, ring)
	require.Equal(t, 300, ring.Size())
	require.ElementsMatch(t, ids, ring.Nodes())
}

func TestRing_GetNode(t *testing.T) {
	t.Run("assigns keys consistently", func(t *testing.T) {
		ids := []string{"subtask-0", "subtask-1"}
		ring := NewRing(ids, 150, 0)

		for _, key := range []string{"kg-3", "kg-17", "kg-128"} {
			n1 := ring.GetNode(key)
			n2 := ring.GetNode(key)
			n3 := ring.GetNode(key)

			require.Equal(t, n1, n2, "key %s not consistent", key)
			require.Equal(t, n1, n3, "key %s not consistent", key)
			require.Contains(t, ids, n1)
		}
	})

	t.Run("distributes keys across nodes", func(t *testing.T) {
		ids := []string{"subtask-0", "subtask-1", "subtask-2"}
		ring := NewRing(ids, 150, 0)

		counts := make(map[string]int)
		for i := range 300 {
			key := fmt.Sprintf("kg-%d", i)
			counts[ring.GetNode(key)]++
		}

		require.Len(t, counts, 3, "all nodes should receive at least one key")
	})

	t.Run("empty ring returns empty string", func(t *testing.T) {
		ring := NewRing(nil, 100, 0)
		require.Equal(t, "", ring.GetNode("kg-0"))
	})
}

func TestRing_GetNodeIndex(t *testing.T) {
	ids := []string{"subtask-0", "subtask-1", "subtask-2"}
	ring := NewRing(ids, 100, 0)

	idx := ring.GetNodeIndex("kg-5")
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx, len(ids))
}

func TestWeightedRing_AssignKeys(t *testing.T) {
	ids := []string{"subtask-0", "subtask-1", "subtask-2"}
	wr := NewWeighted(ids, 150, 0)

	keys := make([]WeightedKey, 0, 60)
	for i := range 60 {
		keys = append(keys, WeightedKey{Key: fmt.Sprintf("kg-%d", i), Weight: 100})
	}

	assignments := wr.AssignKeys(keys)

	total := 0
	for _, assigned := range assignments {
		total += len(assigned)
	}
	require.Equal(t, len(keys), total)

	for _, id := range ids {
		require.LessOrEqual(t, wr.GetNodeWeight(id), int64(60*100)/3*2, "no node should absorb most of the load")
	}
}

func TestWeightedRing_EmptyInputs(t *testing.T) {
	wr := NewWeighted([]string{"subtask-0"}, 50, 0)
	require.Empty(t, wr.AssignKeys(nil))

	wr2 := NewWeighted(nil, 50, 0)
	require.Empty(t, wr2.AssignKeys([]WeightedKey{{Key: "kg-0", Weight: 10}}))
}
