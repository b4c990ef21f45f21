package types

import "context"

// Hooks holds optional lifecycle callbacks invoked by the ReconfigCoordinator
// as a reconfiguration progresses.
//
// All fields are optional; nil callbacks are skipped. Callbacks run
// synchronously on the coordinator/task goroutine that triggers them and
// MUST NOT block on further reconfiguration activity.
type Hooks struct {
	// OnReconfigTriggered fires when the coordinator moves Idle -> Triggered,
	// before a JobExecutionPlan has been constructed.
	OnReconfigTriggered func(ctx context.Context, reconfigID int64, scenario string)

	// OnPlanReady fires once the JobExecutionPlan has been constructed and
	// validated, before it is dispatched to any task.
	OnPlanReady func(ctx context.Context, reconfigID int64, affectedKeyGroups int)

	// OnKeyGroupTransferred fires each time a single key group's state
	// handle completes transfer to its destination task.
	OnKeyGroupTransferred func(ctx context.Context, reconfigID int64, keyGroup uint32)

	// OnReconfigCommitted fires when the coordinator reaches Committed and
	// every task has acknowledged the new plan.
	OnReconfigCommitted func(ctx context.Context, reconfigID int64)

	// OnReconfigAborted fires when the coordinator aborts a reconfiguration,
	// with the error that caused the abort.
	OnReconfigAborted func(ctx context.Context, reconfigID int64, err error)
}
