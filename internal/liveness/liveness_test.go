package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	spackertesting "github.com/arloliu/spacker/testing"
	"github.com/arloliu/spacker/types"
)

func TestBeacon_StartStop(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)
	kv := spackertesting.CreateJetStreamKV(t, nc, "liveness")

	b := New(kv, "task-0", 20*time.Millisecond)
	require.NoError(t, b.Start(context.Background()))

	watcher := NewWatcher(kv)
	alive, err := watcher.Alive(context.Background(), "task-0")
	require.NoError(t, err)
	require.True(t, alive)

	require.NoError(t, b.Stop())

	alive, err = watcher.Alive(context.Background(), "task-0")
	require.NoError(t, err)
	require.False(t, alive)
}

func TestWatcher_WaitAlive_TimesOutWhenNeverSeen(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)
	kv := spackertesting.CreateJetStreamKV(t, nc, "liveness-timeout")

	watcher := NewWatcher(kv)
	err := watcher.WaitAlive(context.Background(), "ghost-task", 50*time.Millisecond)
	require.ErrorIs(t, err, types.ErrTransferTimeout)
}
