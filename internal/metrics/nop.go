package metrics

import "github.com/arloliu/spacker/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external metrics
// collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// CoordinatorMetrics implementation

func (n *NopMetrics) RecordReconfigDuration(_ float64, _ string) {}
func (n *NopMetrics) RecordReconfigTrigger(_ string)              {}
func (n *NopMetrics) SetAffectedKeyGroups(_ int)                  {}
func (n *NopMetrics) RecordPlanConflict()                         {}
func (n *NopMetrics) SetUnackedTasks(_ int)                       {}

// TransferMetrics implementation

func (n *NopMetrics) RecordTransferLatency(_ float64) {}
func (n *NopMetrics) RecordTransferBytes(_ int64)     {}
func (n *NopMetrics) RecordTransferTimeout()          {}
func (n *NopMetrics) SetBufferDepth(_ string, _ int)  {}

// ReplicationMetrics implementation

func (n *NopMetrics) RecordReplicationLag(_ float64)     {}
func (n *NopMetrics) RecordReplicationFailure(_ string) {}

// ChannelMetrics implementation

func (n *NopMetrics) RecordRewire(_ int)   {}
func (n *NopMetrics) RecordRewireFailure() {}
