package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNop(t *testing.T) {
	m := NewNop()

	require.NotNil(t, m)
	require.IsType(t, &NopMetrics{}, m)
}

func TestNopMetrics_DoesNotPanic(t *testing.T) {
	m := NewNop()

	require.NotPanics(t, func() {
		m.RecordReconfigDuration(1.5, "committed")
		m.RecordReconfigTrigger("scale_out")
		m.SetAffectedKeyGroups(16)
		m.RecordPlanConflict()
		m.SetUnackedTasks(3)

		m.RecordTransferLatency(0.01)
		m.RecordTransferBytes(4096)
		m.RecordTransferTimeout()
		m.SetBufferDepth("migrating", 7)

		m.RecordReplicationLag(0.002)
		m.RecordReplicationFailure("timeout")

		m.RecordRewire(12)
		m.RecordRewireFailure()
	})
}

func BenchmarkNopMetrics_RecordTransferLatency(b *testing.B) {
	m := NewNop()
	for b.Loop() {
		m.RecordTransferLatency(0.01)
	}
}
