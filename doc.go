// Package spacker implements key-group state migration for distributed
// stream-processing engines: rescaling a running job's partition assignment
// without restarting it, by snapshotting only the affected key groups,
// transferring their state directly between tasks, and committing the new
// assignment once every transfer is acknowledged (§1-2).
//
// # Quick Start
//
// Basic usage with default settings:
//
//	import "github.com/arloliu/spacker"
//
//	cfg := spacker.DefaultConfig()
//	cfg.MaxParallelism = 128
//
//	assignment := map[plan.SubtaskIndex][]keygroup.ID{0: allKeyGroups}
//	sp, err := spacker.New(&cfg, natsConn, "task-0", 1, assignment)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sp.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sp.Stop(context.Background())
//
// # Key Components
//
//   - KeyGroupRange (keygroup): hashed<->aligned key-group bijection (C1)
//   - KeyedStateTable (statetable): per-task partitioned state + changelog (C2)
//   - KeyGroupStateHandle (statehandle): snapshot artifact byte framing (C3)
//   - JobExecutionPlan (plan): old/new assignment diff, scenario classification (C4)
//   - ReconfigCoordinator (coordinator): the Trigger/Snapshot/Transfer/Drain/Commit FSM (C5)
//   - InputProcessor (inputproc): per-task migration buffering/draining (C6)
//   - StateReplicator (replicator): standby-copy push on a timer (C7)
//   - ChannelRewirer (rewire): input/output channel substitution under new assignment (C8)
//
// # Architecture
//
// A job runs one Spacker per task plus one designated coordinator (created
// with WithBarrierInjector). TriggerReconfig drives the FSM:
//
//	Idle -> Triggered -> Snapshotting -> Transferring -> Draining -> Committed -> Idle
//
// with a direct edge to Aborted from every in-flight state. Hooks fire
// synchronously as the round progresses; see types.Hooks.
package spacker
