package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spacker/internal/reconfigid"
	"github.com/arloliu/spacker/keygroup"
	"github.com/arloliu/spacker/plan"
	"github.com/arloliu/spacker/transport"
	spackertesting "github.com/arloliu/spacker/testing"
	"github.com/arloliu/spacker/types"
)

type fakeInjector struct {
	fail bool
}

func (f *fakeInjector) InjectReconfigBarrier(context.Context, int64, *plan.JobExecutionPlan) error {
	if f.fail {
		return errors.New("barrier alignment failed")
	}

	return nil
}

type fakeRewirer struct{}

func (fakeRewirer) Rewire(context.Context, plan.SubtaskIndex, *plan.JobExecutionPlan) error {
	return nil
}

func newIssuer(t *testing.T) *reconfigid.Issuer {
	_, nc := spackertesting.StartEmbeddedNATS(t)
	kv := spackertesting.CreateJetStreamKV(t, nc, "reconfig-ids")

	return reconfigid.New(kv, nil)
}

func kgs(ids ...int) []keygroup.ID {
	out := make([]keygroup.ID, len(ids))
	for i, id := range ids {
		out[i] = keygroup.ID(id)
	}

	return out
}

func TestCoordinator_TriggerReconfig_ReachesDraining(t *testing.T) {
	old := map[plan.SubtaskIndex][]keygroup.ID{0: kgs(0, 1), 1: kgs(2, 3)}
	c := New(newIssuer(t), &fakeInjector{}, fakeRewirer{}, 2, old)

	newAssignment := map[plan.SubtaskIndex][]keygroup.ID{0: kgs(0, 1, 2), 1: kgs(3)}
	p, err := c.TriggerReconfig(context.Background(), newAssignment)
	require.NoError(t, err)
	require.Equal(t, StateDraining, c.State())
	require.True(t, p.IsDestination(0))
}

func TestCoordinator_CommitsOnceAllAcksAndReleasesArrive(t *testing.T) {
	old := map[plan.SubtaskIndex][]keygroup.ID{0: kgs(0, 1), 1: kgs(2, 3)}
	c := New(newIssuer(t), &fakeInjector{}, fakeRewirer{}, 2, old)

	p, err := c.TriggerReconfig(context.Background(), map[plan.SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1, 2),
		1: kgs(3),
	})
	require.NoError(t, err)
	require.Equal(t, StateDraining, c.State())

	for kg := range p.SrcKgWithDstAddr {
		require.NoError(t, c.OnAcknowledgeReconfig(context.Background(), transport.AcknowledgeReconfigRequest{
			ReconfigID: p.ReconfigID,
			KeyGroup:   kg,
		}))
	}
	require.Equal(t, StateDraining, c.State(), "still waiting on source release")

	for kg := range p.SrcKgWithDstAddr {
		c.NotifySourceReleased(context.Background(), kg)
	}
	require.Equal(t, StateIdle, c.State())
}

func TestCoordinator_RejectsTriggerWhileNotIdle(t *testing.T) {
	old := map[plan.SubtaskIndex][]keygroup.ID{0: kgs(0, 1)}
	c := New(newIssuer(t), &fakeInjector{}, fakeRewirer{}, 1, old)

	_, err := c.TriggerReconfig(context.Background(), map[plan.SubtaskIndex][]keygroup.ID{0: kgs(0, 1)})
	require.NoError(t, err)
	require.Equal(t, StateIdle, c.State(), "no migrating kgs means it commits immediately")

	// Force a non-idle state to exercise the guard.
	c.state.Store(int32(StateTriggered))
	_, err = c.TriggerReconfig(context.Background(), map[plan.SubtaskIndex][]keygroup.ID{0: kgs(0)})
	require.Error(t, err)
}

func TestCoordinator_AbortsOnBarrierInjectionFailure(t *testing.T) {
	old := map[plan.SubtaskIndex][]keygroup.ID{0: kgs(0, 1), 1: kgs(2)}
	c := New(newIssuer(t), &fakeInjector{fail: true}, fakeRewirer{}, 2, old)

	_, err := c.TriggerReconfig(context.Background(), map[plan.SubtaskIndex][]keygroup.ID{
		0: kgs(0),
		1: kgs(1, 2),
	})
	require.Error(t, err)
	require.Equal(t, StateIdle, c.State())
}

func TestCoordinator_HooksFireInOrder(t *testing.T) {
	old := map[plan.SubtaskIndex][]keygroup.ID{0: kgs(0, 1), 1: kgs(2, 3)}

	var events []string
	hooks := &types.Hooks{
		OnReconfigTriggered: func(context.Context, int64, string) { events = append(events, "triggered") },
		OnPlanReady:         func(context.Context, int64, int) { events = append(events, "plan_ready") },
	}

	c := New(newIssuer(t), &fakeInjector{}, fakeRewirer{}, 2, old, WithHooks(hooks))

	_, err := c.TriggerReconfig(context.Background(), map[plan.SubtaskIndex][]keygroup.ID{
		0: kgs(0, 1, 2),
		1: kgs(3),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"triggered", "plan_ready"}, events)
}
