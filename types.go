package spacker

import (
	"github.com/arloliu/spacker/coordinator"
	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/plan"
	"github.com/arloliu/spacker/types"
)

// Re-export types from internal packages so callers only need to import
// the root package for the common vocabulary.
type (
	KeyGroup      = keygroup.ID
	SubtaskIndex  = plan.SubtaskIndex
	ExecutionPlan = plan.JobExecutionPlan
	State         = coordinator.State

	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Hooks            = types.Hooks
)

// Re-exported FSM states, see coordinator.State for the reconfig-point protocol.
const (
	StateIdle         = coordinator.StateIdle
	StateTriggered    = coordinator.StateTriggered
	StateSnapshotting = coordinator.StateSnapshotting
	StateTransferring = coordinator.StateTransferring
	StateDraining     = coordinator.StateDraining
	StateCommitted    = coordinator.StateCommitted
	StateAborted      = coordinator.StateAborted
)
