// Package replicator implements StateReplicator (C7): proactive, filter-
// selected shipping of newly modified key-group deltas to standby replicas
// between reconfigs, so a later migration can reuse replicated state (§4.7).
//
// The changelog-driven delta and the checkpoint-driven delta are treated as
// a single replication cycle driven by the Replicator's own ticker (§9 Open
// Question (b)), rather than as two independently configured paths.
package replicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/statehandle"
	"github.com/arloliu/spacker/statetable"
	"github.com/arloliu/spacker/types"
)

// Target receives a delta snapshot for a set of key-groups.
type Target interface {
	Replicate(ctx context.Context, handle *statehandle.Handle) error
}

// KeysFilter narrows the changelog kgs considered for a given cycle. The
// default filter (every cycle, every kg) is FilterAll.
type KeysFilter func(cycle int, changed []keygroup.ID) []keygroup.ID

// FilterAll replicates every changed key-group on every cycle.
func FilterAll(_ int, changed []keygroup.ID) []keygroup.ID { return changed }

// FilterEveryN replicates only on cycles that are multiples of period,
// implementing the configurable "replicate every Nth reconfig-interval
// cycle" policy from §4.7.
func FilterEveryN(period int) KeysFilter {
	if period < 1 {
		period = 1
	}

	return func(cycle int, changed []keygroup.ID) []keygroup.ID {
		if cycle%period != 0 {
			return nil
		}

		return changed
	}
}

// Replicator periodically ships delta snapshots of the changelog to a set of
// standby targets.
type Replicator struct {
	table   *statetable.Table
	writer  *statehandle.Writer
	targets []Target
	filter  KeysFilter
	metrics types.ReplicationMetrics

	mu    sync.Mutex
	cycle int
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithFilter overrides the default every-cycle filter.
func WithFilter(f KeysFilter) Option {
	return func(r *Replicator) { r.filter = f }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m types.ReplicationMetrics) Option {
	return func(r *Replicator) { r.metrics = m }
}

// New creates a Replicator shipping deltas from table to targets.
func New(table *statetable.Table, targets []Target, opts ...Option) *Replicator {
	r := &Replicator{
		table:   table,
		writer:  statehandle.NewWriter(),
		targets: targets,
		filter:  FilterAll,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Tick runs one replication cycle: it applies the filter to the current
// changelog, builds one delta handle scoped to the surviving key-groups,
// ships that handle once to every target, and clears the changelog only if
// every target acknowledged it (§4.7 failure semantics: a target failure
// leaves the whole batch dirty and it retries on the next cycle).
func (r *Replicator) Tick(ctx context.Context) error {
	r.mu.Lock()
	cycle := r.cycle
	r.cycle++
	r.mu.Unlock()

	changed := r.table.Changelog()
	selected := r.filter(cycle, changed)
	if len(selected) == 0 {
		return nil
	}

	handle, err := r.writer.Snapshot(r.table, selected, nil)
	if err != nil {
		return fmt.Errorf("replicator: snapshot delta: %w", err)
	}

	start := time.Now()

	ok := true
	var firstErr error
	for _, target := range r.targets {
		if err := target.Replicate(ctx, handle); err != nil {
			ok = false
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %w", types.ErrReplicationFailure, err)
			}
			if r.metrics != nil {
				r.metrics.RecordReplicationFailure(err.Error())
			}
		}
	}

	if r.metrics != nil {
		r.metrics.RecordReplicationLag(time.Since(start).Seconds())
	}

	var acked []keygroup.ID
	if ok {
		acked = selected
	}
	r.table.ClearChangelog(acked)

	return firstErr
}

// Run drives Tick on interval until ctx is done.
func (r *Replicator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Tick(ctx)
		}
	}
}
