package spacker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/spacker/coordinator"
	"github.com/arloliu/spacker/inputproc"
	"github.com/arloliu/spacker/internal/kvutil"
	"github.com/arloliu/spacker/internal/liveness"
	"github.com/arloliu/spacker/internal/logging"
	"github.com/arloliu/spacker/internal/metrics"
	"github.com/arloliu/spacker/internal/reconfigid"
	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/placement"
	"github.com/arloliu/spacker/plan"
	"github.com/arloliu/spacker/replicator"
	"github.com/arloliu/spacker/rewire"
	"github.com/arloliu/spacker/statehandle"
	"github.com/arloliu/spacker/statetable"
	"github.com/arloliu/spacker/transport"
)

// Spacker is the per-task entry point: it owns one task's KeyedStateTable
// and InputProcessor, wires the task into the cluster's ReconfigCoordinator
// over NATS, and runs the StateReplicator loop (if configured) for as long
// as it is started. Spacker starts no InputProcessor loop; the host calls
// Processor().Tick from its own dispatch loop.
//
// Exactly one Spacker per job owns the coordinator role, enabled by passing
// WithBarrierInjector at construction time (conventionally a dedicated
// job-manager process, not a data-plane task). Every other Spacker only
// registers task-side RPC handlers and, if configured, runs its own
// StateReplicator.
type Spacker struct {
	cfg    Config
	conn   *nats.Conn
	taskID string

	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
	placer  placement.Placer

	injector coordinator.BarrierInjector
	rewirer  coordinator.Rewirer

	table      *statetable.Table
	writer     *statehandle.Writer
	reader     *statehandle.Reader
	processor  *inputproc.Processor
	replicator *replicator.Replicator
	rewireTask *rewire.Task

	issuer      *reconfigid.Issuer
	beacon      *liveness.Beacon
	watcher     *liveness.Watcher
	coordinator *coordinator.Coordinator
	client      *transport.Client

	numOpenedSubtasks int
	assignment        map[plan.SubtaskIndex][]keygroup.ID
	replicaTargets    []replicator.Target

	backupMu        sync.Mutex
	backupKeyGroups map[keygroup.ID]bool

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	unserve func()
}

var _ transport.Handler = (*Spacker)(nil)

// New creates a Spacker for one task, identified by taskID, with
// numOpenedSubtasks provisioned slots and the given initial subtask->kgs
// assignment.
func New(
	cfg *Config,
	conn *nats.Conn,
	taskID string,
	numOpenedSubtasks int,
	initialAssignment map[plan.SubtaskIndex][]keygroup.ID,
	opts ...Option,
) (*Spacker, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	options := &spackerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}
	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewSlogDefault()
	}
	cfg.ValidateWithWarnings(loggerInstance)

	placer := options.placer
	if placer == nil {
		placer = scenarioPlacer(cfg.Reconfig.Scenario)
	}

	s := &Spacker{
		cfg:               *cfg,
		conn:              conn,
		taskID:            taskID,
		hooks:             options.hooks,
		metrics:           metricsCollector,
		logger:            loggerInstance,
		placer:            placer,
		injector:          options.injector,
		rewirer:           options.rewirer,
		table:             statetable.New(),
		writer:            statehandle.NewWriter(),
		reader:            statehandle.NewReader(),
		numOpenedSubtasks: numOpenedSubtasks,
		assignment:        initialAssignment,
		replicaTargets:    options.replicaTargets,
		backupKeyGroups:   make(map[keygroup.ID]bool),
		client: transport.NewClient(conn, cfg.OperationTimeout, transport.WithChunking(transport.ChunkConfig{
			Enabled:   cfg.Netty.StateTransmissionEnabled && cfg.Netty.ChunkedEnabled,
			ChunkSize: cfg.Netty.ChunkSize,
		})),
	}
	s.processor = inputproc.New(s.dispatch, inputproc.WithOrderFunction(inputproc.OrderFunction(cfg.Reconfig.OrderFunction)))

	return s, nil
}

// scenarioPlacer maps a reconfig.scenario value onto a concrete placement.Placer (§6).
func scenarioPlacer(scenario string) placement.Placer {
	switch scenario {
	case "load_balance", "load_balance_zipf":
		return placement.NewConsistentHash()
	default: // "shuffle", "profiling", "static"
		return placement.NewRoundRobin()
	}
}

// Start claims this task's KV infrastructure, registers RPC handlers, and
// launches the StateReplicator loop (if replicate_keys_filter > 0). It does
// not drive the InputProcessor. If WithBarrierInjector was supplied at
// construction, this task also takes on the ReconfigCoordinator role.
func (s *Spacker) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started.Load() {
		s.mu.Unlock()

		return ErrAlreadyStarted
	}
	s.started.Store(true)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	startupCtx := ctx
	if s.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = context.WithTimeout(ctx, s.cfg.StartupTimeout)
		defer cancel()
	}

	js, err := jetstream.New(s.conn)
	if err != nil {
		return fmt.Errorf("spacker: create jetstream context: %w", err)
	}

	livenessKV, err := kvutil.EnsureKVBucketWithRetry(startupCtx, js, jetstream.KeyValueConfig{
		Bucket: s.cfg.KVBuckets.LivenessBucket,
		TTL:    s.cfg.KVBuckets.LivenessTTL,
	}, 3)
	if err != nil {
		return fmt.Errorf("spacker: ensure liveness KV: %w", err)
	}

	s.watcher = liveness.NewWatcher(livenessKV)
	s.beacon = liveness.New(livenessKV, s.taskID, s.cfg.LivenessPeriod)
	if err := s.beacon.Start(startupCtx); err != nil {
		return fmt.Errorf("spacker: start liveness beacon: %w", err)
	}

	if s.injector != nil {
		reconfigKV, err := kvutil.EnsureKVBucketWithRetry(startupCtx, js, jetstream.KeyValueConfig{
			Bucket: s.cfg.KVBuckets.ReconfigIDBucket,
		}, 3)
		if err != nil {
			return fmt.Errorf("spacker: ensure reconfig KV: %w", err)
		}

		s.issuer = reconfigid.New(reconfigKV, s.logger)
		s.coordinator = coordinator.New(s.issuer, s.injector, s.rewirer, s.numOpenedSubtasks, s.assignment,
			coordinator.WithHooks(s.hooks),
			coordinator.WithMetrics(s.metrics),
			coordinator.WithLogger(s.logger),
		)
	}

	unserve, err := transport.Serve(s.ctx, s.conn, s.taskID, s)
	if err != nil {
		return fmt.Errorf("spacker: register RPC handlers: %w", err)
	}
	s.unserve = unserve

	if s.cfg.ReplicateKeysFilter > 0 {
		filter := replicator.FilterEveryN(s.cfg.ReplicateKeysFilter)
		s.replicator = replicator.New(s.table, s.replicaTargets, replicator.WithFilter(filter), replicator.WithMetrics(s.metrics))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.replicator.Run(s.ctx, time.Duration(s.cfg.Reconfig.TimeoutMs)*time.Millisecond)
		}()
	}

	return nil
}

// Stop gracefully shuts down the Spacker. Safe to call multiple times.
func (s *Spacker) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started.Load() {
		s.mu.Unlock()

		return ErrNotStarted
	}
	s.started.Store(false)
	s.cancel()
	s.mu.Unlock()

	var shutdownErr error

	if s.unserve != nil {
		s.unserve()
	}
	if s.beacon != nil {
		if err := s.beacon.Stop(); err != nil {
			shutdownErr = fmt.Errorf("spacker: stop liveness beacon: %w", err)
		}
	}
	if s.issuer != nil {
		_ = s.issuer.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}

	return shutdownErr
}

// Table returns this task's KeyedStateTable.
func (s *Spacker) Table() *statetable.Table { return s.table }

// Processor returns this task's InputProcessor.
func (s *Spacker) Processor() *inputproc.Processor { return s.processor }

// Coordinator returns the ReconfigCoordinator, non-nil only on the task
// configured with WithBarrierInjector (the coordinator role).
func (s *Spacker) Coordinator() *coordinator.Coordinator { return s.coordinator }

// Client returns the transport.Client this task uses to address RPCs at
// other tasks, for building a TransportReplicaTarget ahead of Start.
func (s *Spacker) Client() *transport.Client { return s.client }

// Replicator returns this task's StateReplicator, non-nil only once Start
// has run with Config.ReplicateKeysFilter > 0.
func (s *Spacker) Replicator() *replicator.Replicator { return s.replicator }

// TriggerReconfig plans and drives one reconfiguration round across
// candidateSubtasks, the full set of subtasks eligible to receive key
// groups under the new assignment. Scope is bounded by
// Config.Reconfig.AffectedTasks (how many of the currently occupied
// subtasks contribute key groups to the round) and
// Config.Reconfig.AffectedKeys/SyncKeys (how many key groups move in
// total, and the cap on any single round); a zero value leaves the
// corresponding bound unrestricted. Only meaningful on the task holding the
// coordinator role (constructed with WithBarrierInjector).
func (s *Spacker) TriggerReconfig(ctx context.Context, candidateSubtasks []plan.SubtaskIndex) (*plan.JobExecutionPlan, error) {
	if s.coordinator == nil {
		return nil, fmt.Errorf("spacker: task %s is not the coordinator", s.taskID)
	}

	s.mu.Lock()
	newAssignment, err := s.planScenario(candidateSubtasks)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p, err := s.coordinator.TriggerReconfig(ctx, newAssignment)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.assignment = newAssignment
	s.mu.Unlock()

	return p, nil
}

// planScenario selects the key groups this round will move, bounded by
// Reconfig.AffectedTasks/AffectedKeys/SyncKeys, places them across
// candidateSubtasks with the configured Placer, and returns the resulting
// full subtask->kgs assignment (unselected key groups stay where they are).
func (s *Spacker) planScenario(candidateSubtasks []plan.SubtaskIndex) (map[plan.SubtaskIndex][]keygroup.ID, error) {
	current := s.assignment

	sources := make([]plan.SubtaskIndex, 0, len(current))
	for st := range current {
		sources = append(sources, st)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	if n := s.cfg.Reconfig.AffectedTasks; n > 0 && len(sources) > n {
		sources = sources[:n]
	}

	var selected []keygroup.ID
	for _, st := range sources {
		selected = append(selected, current[st]...)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i] < selected[j] })

	if n := s.cfg.Reconfig.AffectedKeys; n > 0 && len(selected) > n {
		selected = selected[:n]
	}
	if n := s.cfg.Reconfig.SyncKeys; n > 0 && len(selected) > n {
		selected = selected[:n]
	}

	candidates := make([]string, len(candidateSubtasks))
	for i, st := range candidateSubtasks {
		candidates[i] = subtaskKey(st)
	}

	placed, err := s.placer.Place(candidates, selected)
	if err != nil {
		return nil, fmt.Errorf("spacker: plan scenario: %w", err)
	}

	selectedSet := make(map[keygroup.ID]bool, len(selected))
	for _, kg := range selected {
		selectedSet[kg] = true
	}

	newAssignment := make(map[plan.SubtaskIndex][]keygroup.ID, len(current))
	for st, kgs := range current {
		var kept []keygroup.ID
		for _, kg := range kgs {
			if !selectedSet[kg] {
				kept = append(kept, kg)
			}
		}
		if len(kept) > 0 {
			newAssignment[st] = kept
		}
	}
	for key, kgs := range placed {
		if len(kgs) == 0 {
			continue
		}
		st, err := subtaskFromKey(key)
		if err != nil {
			return nil, err
		}
		newAssignment[st] = append(newAssignment[st], kgs...)
	}

	return newAssignment, nil
}

// subtaskKey and subtaskFromKey convert between plan.SubtaskIndex and the
// string identity placement.Placer operates on.
func subtaskKey(s plan.SubtaskIndex) string { return strconv.Itoa(int(s)) }

func subtaskFromKey(key string) (plan.SubtaskIndex, error) {
	n, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("spacker: invalid subtask key %q: %w", key, err)
	}

	return plan.SubtaskIndex(n), nil
}

func (s *Spacker) dispatch(rec inputproc.Record) {
	// A host engine wires this into its own downstream-operator fan-out;
	// the default retains nothing, leaving delivery to the embedder.
	_ = rec
}

// OnDispatchStateToTask implements transport.Handler: ingest a key group's
// state handle bytes into this task's KeyedStateTable, then mark the key
// group's state as arrived so the InputProcessor drains its buffered
// records on the next Tick (§4.2 step 3-4).
func (s *Spacker) OnDispatchStateToTask(ctx context.Context, req transport.DispatchStateToTaskRequest) error {
	h := &statehandle.Handle{
		KeyGroups: []keygroup.ID{req.KeyGroup},
		Offsets:   []int64{0},
		Modified:  []bool{true},
		Bytes:     req.Payload,
	}

	if err := s.reader.Ingest(s.table, h); err != nil {
		return err
	}

	s.processor.StateArrived(req.KeyGroup)

	return nil
}

// OnUpdateBackupKeyGroups implements transport.Handler: records which key
// groups this task now holds as a standby replica, exposed through
// BackupKeyGroups. OnDispatchStateToTask does not consult this set, and
// ignores PromoteReplica.
func (s *Spacker) OnUpdateBackupKeyGroups(ctx context.Context, req transport.UpdateBackupKeyGroupsRequest) error {
	s.backupMu.Lock()
	defer s.backupMu.Unlock()

	for _, kg := range req.KeyGroups {
		s.backupKeyGroups[kg] = true
	}

	return nil
}

// BackupKeyGroups reports the key groups this task currently holds a
// standby replica for, as recorded by OnUpdateBackupKeyGroups.
func (s *Spacker) BackupKeyGroups() []keygroup.ID {
	s.backupMu.Lock()
	defer s.backupMu.Unlock()

	out := make([]keygroup.ID, 0, len(s.backupKeyGroups))
	for kg := range s.backupKeyGroups {
		out = append(out, kg)
	}

	return out
}

// OnAcknowledgeReconfig implements transport.Handler, delegating to the
// ReconfigCoordinator when this task owns that role.
func (s *Spacker) OnAcknowledgeReconfig(ctx context.Context, req transport.AcknowledgeReconfigRequest) error {
	if s.coordinator == nil {
		return fmt.Errorf("spacker: task %s is not the coordinator", s.taskID)
	}

	return s.coordinator.OnAcknowledgeReconfig(ctx, req)
}

// OnDeclineReconfig implements transport.Handler, delegating to the
// ReconfigCoordinator when this task owns that role.
func (s *Spacker) OnDeclineReconfig(ctx context.Context, req transport.DeclineReconfigRequest) error {
	if s.coordinator == nil {
		return fmt.Errorf("spacker: task %s is not the coordinator", s.taskID)
	}

	return s.coordinator.OnDeclineReconfig(ctx, req)
}

// TransportReplicaTarget ships a StateReplicator's delta handle to one
// standby task over a shared NATS connection, one dispatch_state_to_task RPC
// per key group in the handle.
type TransportReplicaTarget struct {
	client *transport.Client
	taskID string
}

var _ replicator.Target = (*TransportReplicaTarget)(nil)

// NewTransportReplicaTarget creates a replicator.Target addressing taskID
// over client. Pass it to WithReplicaTargets.
func NewTransportReplicaTarget(client *transport.Client, taskID string) *TransportReplicaTarget {
	return &TransportReplicaTarget{client: client, taskID: taskID}
}

// Replicate implements replicator.Target.
func (t *TransportReplicaTarget) Replicate(ctx context.Context, h *statehandle.Handle) error {
	for i, kg := range h.KeyGroups {
		payload, err := h.Slice(i)
		if err != nil {
			return fmt.Errorf("spacker: slice replica payload for kg %d: %w", kg, err)
		}

		req := transport.DispatchStateToTaskRequest{KeyGroup: kg, Payload: payload}
		if err := t.client.DispatchStateToTask(ctx, t.taskID, req); err != nil {
			return fmt.Errorf("spacker: replicate kg %d to %s: %w", kg, t.taskID, err)
		}
	}

	return nil
}
