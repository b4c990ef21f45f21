package types

import "errors"

// Sentinel errors for the six error kinds named by the migration protocol,
// plus ErrConnectivity for transport-level failures.
//
// Each is returned (optionally wrapped with fmt.Errorf("...: %w", ...)) by the
// component responsible for detecting it, so callers can use errors.Is to
// branch on error kind without string matching.
var (
	// ErrPlanConflict indicates a JobExecutionPlan was rejected while it was
	// built: the round adds and removes subtasks at once, or two destination
	// subtasks claim the same key group.
	ErrPlanConflict = errors.New("spacker: plan conflict: stale or concurrent plan version")

	// ErrSnapshotFailure indicates a source task failed to produce a
	// KeyGroupStateHandle for one or more key groups during Snapshotting.
	ErrSnapshotFailure = errors.New("spacker: snapshot failure: key group state could not be captured")

	// ErrTransferTimeout indicates a key-group state handle did not reach its
	// destination task within the configured transfer deadline.
	ErrTransferTimeout = errors.New("spacker: transfer timeout: key group state handle not delivered in time")

	// ErrIngestFailure indicates a destination task failed to ingest a
	// received KeyGroupStateHandle into its KeyedStateTable.
	ErrIngestFailure = errors.New("spacker: ingest failure: key group state handle rejected by destination")

	// ErrRewireFailure indicates the ChannelRewirer could not reconcile a
	// task's input-channel set with the new partition assignment.
	ErrRewireFailure = errors.New("spacker: rewire failure: input channel set could not be reconciled")

	// ErrReplicationFailure indicates a standby-copy push to the replica set
	// failed for one or more key groups.
	ErrReplicationFailure = errors.New("spacker: replication failure: standby copy push failed")

	// ErrConnectivity indicates an RPC or KV operation failed due to a
	// transport-level connectivity problem rather than a protocol error.
	ErrConnectivity = errors.New("spacker: connectivity error")
)

// IsRetryable reports whether err represents a condition that is safe to
// retry without reconstructing the current JobExecutionPlan: transfer
// timeouts, replication failures and connectivity errors are transient,
// while plan conflicts, snapshot/ingest/rewire failures require the
// coordinator to abort and recompute the plan.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransferTimeout) ||
		errors.Is(err, ErrReplicationFailure) ||
		errors.Is(err, ErrConnectivity)
}
