// Package inputproc implements the per-task input-processing migration
// hooks (C6): buffering records for key-groups in flight, draining them in
// arrival order once state lands, and suppressing dispatch at a source once
// a key-group starts moving out (§4.6).
package inputproc

import (
	rand "math/rand/v2"
	"sort"
	"sync"

	"github.com/arloliu/spacker/keygroup"
)

// Record is one unit of work flowing through a task's input processor.
type Record struct {
	KeyGroup keygroup.ID
	Payload  any
}

// Dispatch invokes the operator on a single record.
type Dispatch func(Record)

// OrderFunction selects the drain order for pending migrated key-groups
// (reconfig.order_function): Default preserves the order StateArrived was
// called in, Reverse drains higher key-group ids first, and Random drains
// in a freshly shuffled permutation on every Tick.
type OrderFunction string

const (
	OrderDefault OrderFunction = "default"
	OrderReverse OrderFunction = "reverse"
	OrderRandom  OrderFunction = "random"
)

// Option configures a Processor at construction time.
type Option func(*Processor)

// WithOrderFunction sets the drain order for migrated key-groups. The zero
// value behaves like OrderDefault.
func WithOrderFunction(of OrderFunction) Option {
	return func(p *Processor) { p.orderFunc = of }
}

// Processor is a single-threaded dispatch loop augmented with the three
// migration-scoped fields from §4.6: migrating, migrated, and buffered.
//
// Processor is not safe for concurrent calls to Receive/Dispatch from
// multiple goroutines simultaneously — like the engine it is modeled on, the
// input processor is logically single-threaded; the mutex here only guards
// against migration-control calls (BeginMigration, StateArrived) arriving
// from other goroutines, such as RPC handlers, while the dispatch loop runs
// on its own.
type Processor struct {
	mu sync.Mutex

	dispatch Dispatch

	migrating map[keygroup.ID]struct{}
	migrated  []keygroup.ID
	buffered  map[keygroup.ID][]Record

	// blockedSource holds kgs this task is shedding as a source; see
	// StopDispatch.
	blockedSource map[keygroup.ID]struct{}

	orderFunc OrderFunction
}

// New creates a Processor that invokes dispatch for records not affected by
// an in-progress migration.
func New(dispatch Dispatch, opts ...Option) *Processor {
	p := &Processor{
		dispatch:      dispatch,
		migrating:     make(map[keygroup.ID]struct{}),
		buffered:      make(map[keygroup.ID][]Record),
		blockedSource: make(map[keygroup.ID]struct{}),
		orderFunc:     OrderDefault,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// BeginMigration marks kg as in flight to this task as a destination. Until
// StateArrived(kg) is called, records for kg are buffered instead of
// dispatched.
func (p *Processor) BeginMigration(kg keygroup.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.migrating[kg] = struct{}{}
}

// StateArrived marks kg's state as ingested; its buffered records will be
// drained, in order, on the next call to Tick.
func (p *Processor) StateArrived(kg keygroup.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.migrating, kg)
	p.migrated = append(p.migrated, kg)
}

// StopDispatch marks kg as migrating out at a source: new records for kg are
// acknowledged but dropped locally rather than dispatched, because the
// upstream partitioner will re-route them to the new owner once rewiring
// (C8) completes.
func (p *Processor) StopDispatch(kg keygroup.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.blockedSource[kg] = struct{}{}
}

// ResumeDispatch clears a source-side block, called once rewiring for kg has
// completed and records for kg no longer arrive at this task.
func (p *Processor) ResumeDispatch(kg keygroup.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.blockedSource, kg)
}

// Receive is the dispatch loop's entry point for one incoming record. It
// either invokes dispatch immediately, buffers the record for a migrating
// destination kg, or silently acknowledges it for a blocked source kg.
func (p *Processor) Receive(rec Record) {
	p.mu.Lock()

	if _, blocked := p.blockedSource[rec.KeyGroup]; blocked {
		p.mu.Unlock()

		return
	}

	if _, migrating := p.migrating[rec.KeyGroup]; migrating {
		p.buffered[rec.KeyGroup] = append(p.buffered[rec.KeyGroup], rec)
		p.mu.Unlock()

		return
	}

	p.mu.Unlock()
	p.dispatch(rec)
}

// Tick drains one pending migrated key-group's buffer, invoking dispatch for
// every record in arrival order. It must be called at the top of the
// dispatch loop before pulling the next upstream record, per §4.6: the whole
// per-kg queue drains atomically with respect to the operator before any
// other record is dispatched.
//
// Tick returns true if it drained a key-group (the caller should call it
// again before resuming normal dispatch), or false if there was nothing
// pending.
func (p *Processor) Tick() bool {
	p.mu.Lock()
	if len(p.migrated) == 0 {
		p.mu.Unlock()

		return false
	}

	p.reorderMigratedLocked()

	kg := p.migrated[0]
	p.migrated = p.migrated[1:]
	records := p.buffered[kg]
	delete(p.buffered, kg)
	p.mu.Unlock()

	for _, rec := range records {
		p.dispatch(rec)
	}

	return true
}

// reorderMigratedLocked reshapes the pending migrated queue per orderFunc
// before the next pop. OrderDefault leaves arrival order untouched;
// OrderReverse sorts descending by key-group id; OrderRandom shuffles.
func (p *Processor) reorderMigratedLocked() {
	switch p.orderFunc {
	case OrderReverse:
		sort.Slice(p.migrated, func(i, j int) bool { return p.migrated[i] > p.migrated[j] })
	case OrderRandom:
		rand.Shuffle(len(p.migrated), func(i, j int) {
			p.migrated[i], p.migrated[j] = p.migrated[j], p.migrated[i]
		})
	}
}

// Idle reports whether migration mode has fully drained: no key-groups in
// flight, none pending drain, and no buffered records left over.
func (p *Processor) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.migrating) == 0 && len(p.migrated) == 0 && len(p.buffered) == 0
}
