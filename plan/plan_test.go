package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/types"
)

func kgs(ids ...int) []keygroup.ID {
	out := make([]keygroup.ID, len(ids))
	for i, id := range ids {
		out[i] = keygroup.ID(id)
	}

	return out
}

func TestBuild_ScaleOut(t *testing.T) {
	old := map[SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1, 2, 3),
		1: kgs(4, 5, 6, 7),
	}
	newAssignment := map[SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1, 2),
		1: kgs(4, 5, 6, 7),
		2: kgs(3),
	}
	prevIDs := map[SubtaskIndex]IDInModel{0: 0, 1: 1}

	p, err := Build(1, prevIDs, old, newAssignment, 4)
	require.NoError(t, err)

	require.True(t, p.IsSource(0))
	require.True(t, p.IsDestination(2))
	require.False(t, p.ModifiedSubtaskMap[1])
	require.Equal(t, SubtaskIndex(2), p.SrcKgWithDstAddr[3])

	id2, ok := p.IDInModel(2)
	require.True(t, ok)
	require.Equal(t, IDInModel(2), id2)

	_, ok = p.IDInModel(3)
	require.False(t, ok, "slot 3 is over-provisioned but unoccupied")
}

func TestBuild_ScaleIn(t *testing.T) {
	old := map[SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1),
		1: kgs(2, 3),
		2: kgs(4, 5),
	}
	newAssignment := map[SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1, 4),
		1: kgs(2, 3, 5),
	}
	prevIDs := map[SubtaskIndex]IDInModel{0: 0, 1: 1, 2: 2}

	p, err := Build(2, prevIDs, old, newAssignment, 4)
	require.NoError(t, err)

	require.True(t, p.IsSource(2))
	require.Equal(t, SubtaskIndex(0), p.SrcKgWithDstAddr[4])
	require.Equal(t, SubtaskIndex(1), p.SrcKgWithDstAddr[5])

	unused, ok := p.SubtaskIndexMapping[2]
	require.True(t, ok)
	require.Equal(t, UnusedSubtask, unused)
}

func TestBuild_Repartition(t *testing.T) {
	old := map[SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1, 2, 3),
		1: kgs(4, 5, 6, 7),
	}
	newAssignment := map[SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1, 4, 5),
		1: kgs(2, 3, 6, 7),
	}
	prevIDs := map[SubtaskIndex]IDInModel{0: 0, 1: 1}

	p, err := Build(3, prevIDs, old, newAssignment, 2)
	require.NoError(t, err)

	require.True(t, p.ModifiedSubtaskMap[0])
	require.True(t, p.ModifiedSubtaskMap[1])
	require.Equal(t, SubtaskIndex(0), p.SrcKgWithDstAddr[4])
	require.Equal(t, SubtaskIndex(1), p.SrcKgWithDstAddr[2])
}

func TestBuild_RejectsMultipleAddedSubtasks(t *testing.T) {
	old := map[SubtaskIndex][]keygroup.ID{0: kgs(0, 1)}
	newAssignment := map[SubtaskIndex][]keygroup.ID{
		0: kgs(0),
		1: kgs(1),
		2: kgs(),
	}

	_, err := Build(4, nil, old, newAssignment, 4)
	require.ErrorIs(t, err, types.ErrPlanConflict)
}

func TestBuild_UnaffectedSubtaskHasNoModification(t *testing.T) {
	old := map[SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1),
		1: kgs(2, 3),
	}
	newAssignment := map[SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1),
		1: kgs(2, 3),
	}

	p, err := Build(5, map[SubtaskIndex]IDInModel{0: 0, 1: 1}, old, newAssignment, 2)
	require.NoError(t, err)
	require.Empty(t, p.ModifiedSubtaskMap)
	require.Empty(t, p.SrcKgWithDstAddr)
}
