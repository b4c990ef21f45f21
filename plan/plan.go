// Package plan implements JobExecutionPlan construction (C4): the logical
// old->new mapping of key-groups to subtasks, classifying each subtask as
// unaffected, source, destination, or both, per §4.4.
//
// Grounded directly on the original engine's JobExecutionPlan: the
// UNUSED_SUBTASK sentinel, the scale-out/scale-in/repartition classification,
// and the per-kg srcKgWithDstAddr bookkeeping all mirror that source, with
// its repartition "more than two modified" assertion intentionally omitted
// (§9 Open Question (a)).
package plan

import (
	"fmt"

	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/types"
)

// SubtaskIndex is a physical slot index in [0, numOpenedSubtasks).
type SubtaskIndex int32

// IDInModel is the logical identity of a subtask across reconfigurations,
// distinct from its physical SubtaskIndex (see GLOSSARY).
type IDInModel int32

// UnusedSubtask is the sentinel IDInModel value for an over-provisioned,
// currently-unoccupied slot.
const UnusedSubtask IDInModel = 1<<31 - 1

// JobExecutionPlan is the logical plan for one reconfiguration, built fresh
// from the previous plan's subtask->kgs mapping and the new one (§3, §4.4).
type JobExecutionPlan struct {
	ReconfigID int64

	NumOpenedSubtasks int

	// PartitionAssignment maps a subtask index to the key-groups it owns
	// under the new plan.
	PartitionAssignment map[SubtaskIndex][]keygroup.ID

	// SubtaskIndexMapping maps a subtask index to its logical identity.
	// Unoccupied over-provisioned slots map to UnusedSubtask.
	SubtaskIndexMapping map[SubtaskIndex]IDInModel

	// AlignedKeyGroupRanges holds the dense aligned<->hashed bijection for
	// each occupied subtask under the new plan.
	AlignedKeyGroupRanges map[SubtaskIndex]*keygroup.Range

	// ModifiedSubtaskMap flags subtasks whose key-group set changed at all
	// (source, destination, or both) between old and new.
	ModifiedSubtaskMap map[SubtaskIndex]bool

	// SrcAffectedKgs lists, per source subtask, the key-groups it is losing.
	SrcAffectedKgs map[SubtaskIndex][]keygroup.ID

	// DstAffectedKgs lists, per destination subtask, the key-groups it is gaining.
	DstAffectedKgs map[SubtaskIndex][]keygroup.ID

	// SrcKgWithDstAddr maps each migrating kg to the subtask index that will
	// own it under the new plan, letting a source task address its transfer
	// RPCs without consulting the coordinator per kg.
	SrcKgWithDstAddr map[keygroup.ID]SubtaskIndex
}

// IsSource reports whether subtask has any key-groups leaving it.
func (p *JobExecutionPlan) IsSource(s SubtaskIndex) bool {
	return len(p.SrcAffectedKgs[s]) > 0
}

// IsDestination reports whether subtask has any key-groups arriving.
func (p *JobExecutionPlan) IsDestination(s SubtaskIndex) bool {
	return len(p.DstAffectedKgs[s]) > 0
}

// IDInModel returns the logical identity of a subtask index, or
// (UnusedSubtask, false) if the slot is unoccupied.
func (p *JobExecutionPlan) IDInModel(s SubtaskIndex) (IDInModel, bool) {
	id, ok := p.SubtaskIndexMapping[s]

	return id, ok && id != UnusedSubtask
}

// Build constructs a new JobExecutionPlan from the previous plan's
// subtask->kgs mapping (old) and the desired new mapping (new), per the
// four-step algorithm in §4.4.
//
// prevIDs carries forward the logical identity of subtasks that continue to
// exist; a subtask index present in new but absent from prevIDs is treated
// as newly opened and assigned the next free IDInModel.
func Build(
	reconfigID int64,
	prevIDs map[SubtaskIndex]IDInModel,
	old, newAssignment map[SubtaskIndex][]keygroup.ID,
	numOpenedSubtasks int,
) (*JobExecutionPlan, error) {
	if err := validateShape(old, newAssignment); err != nil {
		return nil, err
	}

	p := &JobExecutionPlan{
		ReconfigID:            reconfigID,
		NumOpenedSubtasks:     numOpenedSubtasks,
		PartitionAssignment:   make(map[SubtaskIndex][]keygroup.ID, len(newAssignment)),
		SubtaskIndexMapping:   make(map[SubtaskIndex]IDInModel, numOpenedSubtasks),
		AlignedKeyGroupRanges: make(map[SubtaskIndex]*keygroup.Range, len(newAssignment)),
		ModifiedSubtaskMap:    make(map[SubtaskIndex]bool, len(newAssignment)),
		SrcAffectedKgs:        make(map[SubtaskIndex][]keygroup.ID),
		DstAffectedKgs:        make(map[SubtaskIndex][]keygroup.ID),
		SrcKgWithDstAddr:      make(map[keygroup.ID]SubtaskIndex),
	}

	for s, kgs := range newAssignment {
		p.PartitionAssignment[s] = append([]keygroup.ID(nil), kgs...)
		p.AlignedKeyGroupRanges[s] = keygroup.NewRange(kgs)
	}

	classifySources(old, newAssignment, p)

	if err := assignDestinationAddresses(p); err != nil {
		return nil, err
	}

	assignSubtaskIdentities(prevIDs, newAssignment, numOpenedSubtasks, p)

	return p, nil
}

func validateShape(old, newAssignment map[SubtaskIndex][]keygroup.ID) error {
	added, removed := 0, 0
	for s := range newAssignment {
		if _, ok := old[s]; !ok {
			added++
		}
	}
	for s := range old {
		if _, ok := newAssignment[s]; !ok {
			removed++
		}
	}

	if added > 1 || removed > 1 {
		return fmt.Errorf("%w: plan adds %d and removes %d subtasks in one round, only one of either is supported",
			types.ErrPlanConflict, added, removed)
	}

	return nil
}

// classifySources computes, per subtask, which key-groups it is losing
// (sourceKgs = old \ new) and gaining (destKgs = new \ old). This single
// set-difference formulation covers scale-out, scale-in, and repartition
// uniformly (§4.4 step 1's three cases reduce to the same per-subtask diff).
func classifySources(old, newAssignment map[SubtaskIndex][]keygroup.ID, p *JobExecutionPlan) {
	subtasks := make(map[SubtaskIndex]struct{})
	for s := range old {
		subtasks[s] = struct{}{}
	}
	for s := range newAssignment {
		subtasks[s] = struct{}{}
	}

	for s := range subtasks {
		oldSet := toSet(old[s])
		newSet := toSet(newAssignment[s])

		var sourceKgs, destKgs []keygroup.ID
		for kg := range oldSet {
			if !newSet[kg] {
				sourceKgs = append(sourceKgs, kg)
			}
		}
		for kg := range newSet {
			if !oldSet[kg] {
				destKgs = append(destKgs, kg)
			}
		}

		if len(sourceKgs) > 0 {
			p.SrcAffectedKgs[s] = sourceKgs
			p.ModifiedSubtaskMap[s] = true
		}
		if len(destKgs) > 0 {
			p.DstAffectedKgs[s] = destKgs
			p.ModifiedSubtaskMap[s] = true
		}
	}
}

// assignDestinationAddresses fills SrcKgWithDstAddr: for every kg in any
// subtask's sourceKgs, find the subtask whose destKgs contains it (§4.4
// step 2). A kg appearing in more than one destination set is a PlanConflict.
func assignDestinationAddresses(p *JobExecutionPlan) error {
	owner := make(map[keygroup.ID]SubtaskIndex, len(p.SrcKgWithDstAddr))

	for dst, kgs := range p.DstAffectedKgs {
		for _, kg := range kgs {
			if existing, ok := owner[kg]; ok {
				return fmt.Errorf("%w: kg %d claimed as destination by both subtask %d and %d",
					types.ErrPlanConflict, kg, existing, dst)
			}
			owner[kg] = dst
		}
	}

	for _, kgs := range p.SrcAffectedKgs {
		for _, kg := range kgs {
			if dst, ok := owner[kg]; ok {
				p.SrcKgWithDstAddr[kg] = dst
			}
		}
	}

	return nil
}

// assignSubtaskIdentities builds SubtaskIndexMapping: continuing subtasks
// keep their previous IDInModel, newly opened subtasks get the next free
// identity, and slots beyond the occupied set are UnusedSubtask (§4.4 step 3).
func assignSubtaskIdentities(
	prevIDs map[SubtaskIndex]IDInModel,
	newAssignment map[SubtaskIndex][]keygroup.ID,
	numOpenedSubtasks int,
	p *JobExecutionPlan,
) {
	var nextID IDInModel
	for _, id := range prevIDs {
		if id != UnusedSubtask && id >= nextID {
			nextID = id + 1
		}
	}

	for s := range numOpenedSubtasksRange(numOpenedSubtasks) {
		if _, occupied := newAssignment[s]; !occupied {
			p.SubtaskIndexMapping[s] = UnusedSubtask
			continue
		}

		if id, ok := prevIDs[s]; ok && id != UnusedSubtask {
			p.SubtaskIndexMapping[s] = id
			continue
		}

		p.SubtaskIndexMapping[s] = nextID
		nextID++
	}
}

func numOpenedSubtasksRange(n int) []SubtaskIndex {
	out := make([]SubtaskIndex, n)
	for i := range out {
		out[i] = SubtaskIndex(i)
	}

	return out
}

func toSet(kgs []keygroup.ID) map[keygroup.ID]bool {
	set := make(map[keygroup.ID]bool, len(kgs))
	for _, kg := range kgs {
		set[kg] = true
	}

	return set
}
