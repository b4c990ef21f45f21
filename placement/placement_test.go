package placement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spacker/keygroup"
)

func kgRange(n int) []keygroup.ID {
	kgs := make([]keygroup.ID, n)
	for i := range kgs {
		kgs[i] = keygroup.ID(i)
	}

	return kgs
}

func TestRoundRobin_Place(t *testing.T) {
	rr := NewRoundRobin()

	assignments, err := rr.Place([]string{"t0", "t1"}, kgRange(8))
	require.NoError(t, err)
	require.Len(t, assignments["t0"], 4)
	require.Len(t, assignments["t1"], 4)
}

func TestRoundRobin_NoSubtasks(t *testing.T) {
	rr := NewRoundRobin()
	_, err := rr.Place(nil, kgRange(4))
	require.ErrorIs(t, err, ErrNoSubtasks)
}

func TestConsistentHash_Deterministic(t *testing.T) {
	ch := NewConsistentHash(WithHashSeed(42))

	a1, err := ch.Place([]string{"t0", "t1", "t2"}, kgRange(100))
	require.NoError(t, err)
	a2, err := ch.Place([]string{"t0", "t1", "t2"}, kgRange(100))
	require.NoError(t, err)

	require.Equal(t, a1, a2)

	total := 0
	for _, kgs := range a1 {
		total += len(kgs)
	}
	require.Equal(t, 100, total)
}

func TestWeighted_PlaceWeighted_AssignsEveryKeyGroup(t *testing.T) {
	w := NewWeighted(150, 7)

	weights := make(map[keygroup.ID]int64, 50)
	for i := range 50 {
		weights[keygroup.ID(i)] = 100
	}
	// One very hot key.
	weights[keygroup.ID(0)] = 50_000

	assignments, err := w.PlaceWeighted([]string{"t0", "t1", "t2"}, weights)
	require.NoError(t, err)

	total := 0
	for _, kgs := range assignments {
		total += len(kgs)
	}
	require.Equal(t, 50, total)
}
