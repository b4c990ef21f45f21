package spacker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/plan"
	spackertesting "github.com/arloliu/spacker/testing"
	"github.com/arloliu/spacker/transport"
)

type fakeBarrierInjector struct{}

func (fakeBarrierInjector) InjectReconfigBarrier(context.Context, int64, *plan.JobExecutionPlan) error {
	return nil
}

func TestNew_RequiredParameters(t *testing.T) {
	assignment := map[plan.SubtaskIndex][]keygroup.ID{0: {0, 1}}

	t.Run("nil config", func(t *testing.T) {
		sp, err := New(nil, nil, "task-0", 1, assignment)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Nil(t, sp)
	})

	t.Run("nil connection", func(t *testing.T) {
		cfg := TestConfig()
		sp, err := New(&cfg, nil, "task-0", 1, assignment)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNATSConnectionRequired)
		require.Nil(t, sp)
	})
}

func TestNew_DefaultsOptionalDependencies(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)

	cfg := TestConfig()
	assignment := map[plan.SubtaskIndex][]keygroup.ID{0: {0, 1}}

	sp, err := New(&cfg, nc, "task-0", 1, assignment)
	require.NoError(t, err)
	require.NotNil(t, sp)
	require.NotNil(t, sp.metrics)
	require.NotNil(t, sp.logger)
	require.NotNil(t, sp.placer)
	require.Nil(t, sp.coordinator, "no WithBarrierInjector => no coordinator role")
}

func TestSpacker_StartStop(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)

	cfg := TestConfig()
	assignment := map[plan.SubtaskIndex][]keygroup.ID{0: {0, 1}}

	sp, err := New(&cfg, nc, "task-0", 1, assignment)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sp.Start(ctx))
	require.ErrorIs(t, sp.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, sp.Stop(ctx))
	require.ErrorIs(t, sp.Stop(ctx), ErrNotStarted)
}

func TestSpacker_DispatchStateToTask_IngestsAndUnblocksProcessor(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)

	cfg := TestConfig()
	assignment := map[plan.SubtaskIndex][]keygroup.ID{0: {0}}

	sp, err := New(&cfg, nc, "task-dst", 1, assignment)
	require.NoError(t, err)
	require.NoError(t, sp.Start(context.Background()))
	defer sp.Stop(context.Background())

	sp.table.Put(7, "ns", "k", "v")
	h, err := sp.writer.Snapshot(sp.table, []keygroup.ID{7}, map[keygroup.ID]bool{7: true})
	require.NoError(t, err)
	payload, err := h.Slice(0)
	require.NoError(t, err)

	dst, err := New(&cfg, nc, "task-dst-2", 1, assignment)
	require.NoError(t, err)
	require.NoError(t, dst.Start(context.Background()))
	defer dst.Stop(context.Background())

	dst.processor.BeginMigration(7)
	require.False(t, dst.processor.Idle())

	req := transport.DispatchStateToTaskRequest{ReconfigID: 1, KeyGroup: 7, Payload: payload}
	require.NoError(t, dst.OnDispatchStateToTask(context.Background(), req))

	_, ok := dst.table.Get(7, "ns", "k")
	require.True(t, ok)

	require.True(t, dst.processor.Tick())
}

func TestSpacker_TriggerReconfig_RespectsAffectedTasksKeysAndSyncKeys(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)

	cfg := TestConfig()
	cfg.Reconfig.AffectedTasks = 1
	cfg.Reconfig.AffectedKeys = 2
	cfg.Reconfig.SyncKeys = 1

	assignment := map[plan.SubtaskIndex][]keygroup.ID{
		0: {0, 1, 2},
		1: {3, 4, 5},
	}

	sp, err := New(&cfg, nc, "coordinator", 2, assignment, WithBarrierInjector(fakeBarrierInjector{}))
	require.NoError(t, err)
	require.NoError(t, sp.Start(context.Background()))
	defer sp.Stop(context.Background())

	p, err := sp.TriggerReconfig(context.Background(), []plan.SubtaskIndex{1, 0})
	require.NoError(t, err)

	moved := 0
	for _, kgs := range p.DstAffectedKgs {
		moved += len(kgs)
	}
	require.Equal(t, 1, moved, "SyncKeys=1 caps this round to a single migrating key group")
}

func TestSpacker_Replicate_DeliversToTransportTargetAndRecordsBackupMembership(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)

	cfg := TestConfig()
	assignment := map[plan.SubtaskIndex][]keygroup.ID{0: {9}}

	dst, err := New(&cfg, nc, "task-backup", 1, assignment)
	require.NoError(t, err)
	require.NoError(t, dst.Start(context.Background()))
	defer dst.Stop(context.Background())

	require.NoError(t, dst.OnUpdateBackupKeyGroups(context.Background(), transport.UpdateBackupKeyGroupsRequest{
		KeyGroups: []keygroup.ID{9},
	}))
	require.ElementsMatch(t, []keygroup.ID{9}, dst.BackupKeyGroups())

	srcCfg := TestConfig()
	srcCfg.ReplicateKeysFilter = 1
	srcClient := transport.NewClient(nc, srcCfg.OperationTimeout)
	src, err := New(&srcCfg, nc, "task-src", 1, assignment,
		WithReplicaTargets(NewTransportReplicaTarget(srcClient, "task-backup")))
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop(context.Background())

	src.table.Put(9, "ns", "k", "v")
	require.NotEmpty(t, src.table.Changelog())

	require.NoError(t, src.Replicator().Tick(context.Background()))
	require.Empty(t, src.table.Changelog(), "a successful replication push clears the changelog")

	_, ok := dst.table.Get(9, "ns", "k")
	require.True(t, ok, "the standby task ingested the replicated value")
}

func TestSpacker_TriggerReconfig_RequiresCoordinatorRole(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)

	cfg := TestConfig()
	assignment := map[plan.SubtaskIndex][]keygroup.ID{0: {0}}

	sp, err := New(&cfg, nc, "task-0", 1, assignment)
	require.NoError(t, err)
	require.NoError(t, sp.Start(context.Background()))
	defer sp.Stop(context.Background())

	_, err = sp.TriggerReconfig(context.Background(), []plan.SubtaskIndex{0})
	require.Error(t, err)
}
