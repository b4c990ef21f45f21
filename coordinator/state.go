package coordinator

// State is a ReconfigCoordinator's position in the reconfig-point protocol
// (§4.5): Idle -> Triggered -> Snapshotting -> Transferring -> Draining ->
// Committed -> Idle, with a direct path back to Idle on abort.
type State int32

const (
	StateIdle State = iota
	StateTriggered
	StateSnapshotting
	StateTransferring
	StateDraining
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTriggered:
		return "triggered"
	case StateSnapshotting:
		return "snapshotting"
	case StateTransferring:
		return "transferring"
	case StateDraining:
		return "draining"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// validTransitions encodes the allowed edges of the protocol's FSM,
// including the abort edge from every in-flight state back to StateAborted
// and the terminal edges StateCommitted/StateAborted -> StateIdle once the
// coordinator has reset for the next round.
var validTransitions = map[State]map[State]bool{
	StateIdle:          {StateTriggered: true},
	StateTriggered:     {StateSnapshotting: true, StateAborted: true},
	StateSnapshotting:  {StateTransferring: true, StateAborted: true},
	StateTransferring:  {StateDraining: true, StateAborted: true},
	StateDraining:      {StateCommitted: true, StateAborted: true},
	StateCommitted:     {StateIdle: true},
	StateAborted:       {StateIdle: true},
}

func isValidTransition(from, to State) bool {
	return validTransitions[from][to]
}
