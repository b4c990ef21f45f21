package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	CoordinatorMetrics
	TransferMetrics
	ReplicationMetrics
	ChannelMetrics
}

// CoordinatorMetrics defines metrics for the ReconfigCoordinator's FSM.
type CoordinatorMetrics interface {
	// RecordReconfigDuration records the wall-clock time a reconfiguration
	// round spent between Triggered and Committed (or aborted).
	//
	// Parameters:
	//   - duration: Time taken in seconds
	//   - outcome: "committed", "aborted", "timeout"
	RecordReconfigDuration(duration float64, outcome string)

	// RecordReconfigTrigger records a reconfiguration trigger event.
	//
	// Parameters:
	//   - scenario: "scale_out", "scale_in", "repartition"
	RecordReconfigTrigger(scenario string)

	// SetAffectedKeyGroups sets the number of key groups touched by the
	// current in-flight reconfiguration (gauge metric).
	SetAffectedKeyGroups(count int)

	// RecordPlanConflict is called once for every aborted reconfiguration
	// round, whatever the cause (plan rejection, barrier injection failure,
	// or a task declining).
	RecordPlanConflict()

	// SetUnackedTasks sets the number of migrating key groups whose
	// destination has not yet acknowledged the current reconfig point
	// (gauge metric).
	SetUnackedTasks(count int)
}

// TransferMetrics defines metrics for key-group state transfer (C3/C7).
type TransferMetrics interface {
	// RecordTransferLatency records the time to move one key group's state
	// handle from source to destination task.
	//
	// Parameters:
	//   - duration: Time taken in seconds
	RecordTransferLatency(duration float64)

	// RecordTransferBytes records the serialized size of a key-group state
	// handle transfer.
	RecordTransferBytes(bytes int64)

	// RecordTransferTimeout records a transfer that exceeded its deadline.
	RecordTransferTimeout()

	// SetBufferDepth sets the current depth of a task's buffered-records
	// queue during migration (gauge metric), labeled by queue name.
	//
	// Parameters:
	//   - queue: "migrating", "migrated", "buffered"
	//   - depth: Current queue depth
	SetBufferDepth(queue string, depth int)
}

// ReplicationMetrics defines metrics for standby-copy replication (C7).
type ReplicationMetrics interface {
	// RecordReplicationLag records the delay between a state mutation and
	// its delivery to the standby replica set.
	RecordReplicationLag(duration float64)

	// RecordReplicationFailure records a failed replica push.
	RecordReplicationFailure(reason string)
}

// ChannelMetrics defines metrics for channel rewiring (C8).
type ChannelMetrics interface {
	// RecordRewire records a completed channel rewire, with the resulting
	// input-channel count.
	RecordRewire(channelCount int)

	// RecordRewireFailure records a failed rewire attempt.
	RecordRewireFailure()
}
