// Package rewire implements ChannelRewirer (C8): rebuilding a task's
// input/output partitions and downstream gates when its idInModel or
// key-group ownership changes, without tearing the task down (§4.8).
package rewire

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/spacker/types"
)

// InputGate is an opaque channel descriptor substituted atomically during a
// rewire. Its shape is owned by the host engine; this package only moves it.
type InputGate any

// ResultPartitionWriter is an output partition writer that must be flushed
// and unregistered before being replaced.
type ResultPartitionWriter interface {
	Flush(ctx context.Context) error
	Unregister() error
}

// Reconnectable is a task's input processor, which must recompute its
// input-channel count and resize deserializer/watermark-valve state after a
// rewire (§4.8c).
type Reconnectable interface {
	Reconnect(inputChannelCount int)
}

// Task holds the channel state a rewire substitutes for one task.
type Task struct {
	mu sync.Mutex

	InputGates []InputGate
	Writers    []ResultPartitionWriter
	Processor  Reconnectable

	metrics types.ChannelMetrics
}

// NewTask creates a Task with its initial channel state.
func NewTask(gates []InputGate, writers []ResultPartitionWriter, proc Reconnectable) *Task {
	return &Task{InputGates: gates, Writers: writers, Processor: proc}
}

// WithMetrics attaches a metrics collector to t.
func (t *Task) WithMetrics(m types.ChannelMetrics) *Task {
	t.metrics = m

	return t
}

// Rewire substitutes t's input gates and output writers under t's lock, at a
// point between records, then reconnects the input processor.
//
// Old writers are flushed and unregistered before being replaced so no
// records in flight through them are lost (§4.8b).
func (t *Task) Rewire(ctx context.Context, newGates []InputGate, newWriters []ResultPartitionWriter) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, w := range t.Writers {
		if err := w.Flush(ctx); err != nil {
			if t.metrics != nil {
				t.metrics.RecordRewireFailure()
			}

			return fmt.Errorf("%w: flush old writer: %w", types.ErrRewireFailure, err)
		}
		if err := w.Unregister(); err != nil {
			if t.metrics != nil {
				t.metrics.RecordRewireFailure()
			}

			return fmt.Errorf("%w: unregister old writer: %w", types.ErrRewireFailure, err)
		}
	}

	t.InputGates = newGates
	t.Writers = newWriters

	if t.Processor != nil {
		t.Processor.Reconnect(len(newGates))
	}

	if t.metrics != nil {
		t.metrics.RecordRewire(len(newGates))
	}

	return nil
}
