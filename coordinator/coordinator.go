// Package coordinator implements ReconfigCoordinator (C5): the singleton
// per-job actor that drives a reconfig-point across the cluster, from
// stamping a reconfigId through committing (or aborting) the round (§4.5).
//
// State is an atomic word guarded by a validated transition table; a mutex
// serializes the slow path (the handful of state-changing calls), and hooks
// run synchronously under that lock, so a hook must not call back into the
// coordinator. Reads of the current state never block on the slow path.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/spacker/internal/reconfigid"
	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/plan"
	"github.com/arloliu/spacker/transport"
	"github.com/arloliu/spacker/types"
)

// BarrierInjector abstracts the host engine's checkpoint-barrier mechanism:
// injecting a distinguished reconfig-point barrier into every source
// operator's output so it propagates and aligns exactly like a normal
// checkpoint barrier (§4.5 step 1).
type BarrierInjector interface {
	InjectReconfigBarrier(ctx context.Context, reconfigID int64, p *plan.JobExecutionPlan) error
}

// Rewirer instructs one subtask to rebuild its input/output partitions
// (§4.5 step 4, delegating to C8).
type Rewirer interface {
	Rewire(ctx context.Context, subtask plan.SubtaskIndex, p *plan.JobExecutionPlan) error
}

// Coordinator drives one job's reconfig-point protocol.
type Coordinator struct {
	issuer   *reconfigid.Issuer
	injector BarrierInjector
	rewirer  Rewirer
	hooks    *types.Hooks
	metrics  types.CoordinatorMetrics
	logger   types.Logger

	numOpenedSubtasks int

	mu                sync.Mutex
	state             atomic.Int32
	prevIDs           map[plan.SubtaskIndex]plan.IDInModel
	currentAssignment map[plan.SubtaskIndex][]keygroup.ID
	current           *plan.JobExecutionPlan
	unacked           map[keygroup.ID]bool
	sourceUnreleased  map[keygroup.ID]bool
	startedAt         time.Time
}

var _ transport.Handler = (*Coordinator)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHooks attaches lifecycle callbacks.
func WithHooks(h *types.Hooks) Option { return func(c *Coordinator) { c.hooks = h } }

// WithMetrics attaches a metrics collector.
func WithMetrics(m types.CoordinatorMetrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithLogger attaches a logger.
func WithLogger(l types.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// New creates a Coordinator for a job with numOpenedSubtasks provisioned
// slots, starting from initialAssignment's subtask->kgs mapping.
func New(
	issuer *reconfigid.Issuer,
	injector BarrierInjector,
	rewirer Rewirer,
	numOpenedSubtasks int,
	initialAssignment map[plan.SubtaskIndex][]keygroup.ID,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		issuer:            issuer,
		injector:          injector,
		rewirer:           rewirer,
		numOpenedSubtasks: numOpenedSubtasks,
		currentAssignment: initialAssignment,
		prevIDs:           make(map[plan.SubtaskIndex]plan.IDInModel, numOpenedSubtasks),
	}
	for s := range initialAssignment {
		c.prevIDs[s] = plan.IDInModel(s)
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// State returns the coordinator's current FSM state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// TriggerReconfig runs the Trigger/Snapshot/Transfer phases synchronously,
// starts rewiring asynchronously (one goroutine per modified subtask), and
// leaves the coordinator in StateDraining, waiting for OnAcknowledgeReconfig
// calls and NotifySourceReleased to reach Committed. A round with no
// migrating key groups commits and returns to StateIdle before it returns.
//
// It returns the built plan so the caller can hand it to every affected
// task (their snapshot, transfer, and rewire calls are driven by the plan,
// not by this package, which only orchestrates the protocol's shape).
func (c *Coordinator) TriggerReconfig(
	ctx context.Context,
	newAssignment map[plan.SubtaskIndex][]keygroup.ID,
) (*plan.JobExecutionPlan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if State(c.state.Load()) != StateIdle {
		return nil, fmt.Errorf("coordinator: cannot trigger reconfig from state %s", c.State())
	}

	c.startedAt = time.Now()

	id, err := c.issuer.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: issue reconfigId: %w", err)
	}

	c.mustTransition(StateIdle, StateTriggered)
	if c.hooks != nil && c.hooks.OnReconfigTriggered != nil {
		c.hooks.OnReconfigTriggered(ctx, id, "")
	}

	p, err := plan.Build(id, c.prevIDs, c.currentAssignment, newAssignment, c.numOpenedSubtasks)
	if err != nil {
		c.abortLocked(ctx, id, err)

		return nil, err
	}

	c.current = p
	c.unacked = kgSet(p.SrcKgWithDstAddr)
	c.sourceUnreleased = kgSet(p.SrcKgWithDstAddr)

	if c.metrics != nil {
		c.metrics.SetAffectedKeyGroups(len(p.SrcKgWithDstAddr))
		c.metrics.SetUnackedTasks(len(c.unacked))
	}
	if c.hooks != nil && c.hooks.OnPlanReady != nil {
		c.hooks.OnPlanReady(ctx, id, len(p.SrcKgWithDstAddr))
	}

	c.mustTransition(StateTriggered, StateSnapshotting)

	if err := c.injector.InjectReconfigBarrier(ctx, id, p); err != nil {
		c.abortLocked(ctx, id, err)

		return nil, err
	}

	c.mustTransition(StateSnapshotting, StateTransferring)

	c.kickOffRewiring(ctx, p)

	c.mustTransition(StateTransferring, StateDraining)

	c.currentAssignment = newAssignment
	for s, id := range p.SubtaskIndexMapping {
		c.prevIDs[s] = id
	}

	c.maybeCommitLocked(ctx) // a round with nothing to migrate commits immediately

	return p, nil
}

func (c *Coordinator) kickOffRewiring(ctx context.Context, p *plan.JobExecutionPlan) {
	if c.rewirer == nil {
		return
	}

	for s := range p.ModifiedSubtaskMap {
		subtask := s
		go func() {
			if err := c.rewirer.Rewire(ctx, subtask, p); err != nil && c.logger != nil {
				c.logger.Error("coordinator: rewire failed", "subtask", subtask, "error", err)
			}
		}()
	}
}

// NotifySourceReleased records that a source task has released its
// changelog entries for kg (statetable.Table.ReleaseChangelogs), one of the
// two conditions gating commit (§4.5 step 6).
func (c *Coordinator) NotifySourceReleased(ctx context.Context, kg keygroup.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sourceUnreleased, kg)
	c.maybeCommitLocked(ctx)
}

// OnAcknowledgeReconfig implements transport.Handler: a destination task
// confirms kg has been ingested and drained.
func (c *Coordinator) OnAcknowledgeReconfig(ctx context.Context, req transport.AcknowledgeReconfigRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || req.ReconfigID != c.current.ReconfigID {
		return fmt.Errorf("coordinator: ack for unknown reconfigId %d", req.ReconfigID)
	}

	delete(c.unacked, req.KeyGroup)
	if c.metrics != nil {
		c.metrics.SetUnackedTasks(len(c.unacked))
	}
	if c.hooks != nil && c.hooks.OnKeyGroupTransferred != nil {
		c.hooks.OnKeyGroupTransferred(ctx, req.ReconfigID, uint32(req.KeyGroup))
	}

	c.maybeCommitLocked(ctx)

	return nil
}

// OnDeclineReconfig implements transport.Handler: a task reports it cannot
// complete the in-flight reconfigId, aborting the round (§4.5 failure
// semantics).
func (c *Coordinator) OnDeclineReconfig(ctx context.Context, req transport.DeclineReconfigRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || req.ReconfigID != c.current.ReconfigID {
		return nil // stale decline for an already-resolved round
	}

	c.abortLocked(ctx, req.ReconfigID, fmt.Errorf("task declined: %s", req.Reason))

	return nil
}

// OnDispatchStateToTask and OnUpdateBackupKeyGroups are never addressed to
// the coordinator's subject; they exist only so *Coordinator satisfies
// transport.Handler when registered alongside task handlers on the same
// connection.
func (c *Coordinator) OnDispatchStateToTask(context.Context, transport.DispatchStateToTaskRequest) error {
	return fmt.Errorf("coordinator: does not accept dispatch_state_to_task")
}

func (c *Coordinator) OnUpdateBackupKeyGroups(context.Context, transport.UpdateBackupKeyGroupsRequest) error {
	return fmt.Errorf("coordinator: does not accept update_backup_key_groups")
}

func (c *Coordinator) maybeCommitLocked(ctx context.Context) {
	if State(c.state.Load()) != StateDraining {
		return
	}
	if len(c.unacked) > 0 || len(c.sourceUnreleased) > 0 {
		return
	}

	reconfigID := c.current.ReconfigID

	c.mustTransition(StateDraining, StateCommitted)
	if c.metrics != nil {
		c.metrics.RecordReconfigDuration(time.Since(c.startedAt).Seconds(), "committed")
	}
	if c.hooks != nil && c.hooks.OnReconfigCommitted != nil {
		c.hooks.OnReconfigCommitted(ctx, reconfigID)
	}

	c.mustTransition(StateCommitted, StateIdle)
	c.current = nil
	c.unacked = nil
	c.sourceUnreleased = nil
}

func (c *Coordinator) abortLocked(ctx context.Context, reconfigID int64, cause error) {
	from := State(c.state.Load())
	c.mustTransition(from, StateAborted)
	if c.metrics != nil {
		c.metrics.RecordReconfigDuration(time.Since(c.startedAt).Seconds(), "aborted")
		if errors.Is(cause, types.ErrPlanConflict) {
			c.metrics.RecordPlanConflict()
		}
	}
	if c.hooks != nil && c.hooks.OnReconfigAborted != nil {
		c.hooks.OnReconfigAborted(ctx, reconfigID, cause)
	}

	c.mustTransition(StateAborted, StateIdle)
	c.current = nil
	c.unacked = nil
	c.sourceUnreleased = nil
}

func (c *Coordinator) mustTransition(from, to State) {
	if !isValidTransition(from, to) {
		if c.logger != nil {
			c.logger.Error("coordinator: invalid state transition", "from", from.String(), "to", to.String())
		}

		return
	}
	c.state.Store(int32(to))
	if c.logger != nil {
		c.logger.Debug("coordinator: state transition", "from", from.String(), "to", to.String())
	}
}

func kgSet(m map[keygroup.ID]plan.SubtaskIndex) map[keygroup.ID]bool {
	set := make(map[keygroup.ID]bool, len(m))
	for kg := range m {
		set[kg] = true
	}

	return set
}
