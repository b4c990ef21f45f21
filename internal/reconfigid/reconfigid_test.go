package reconfigid

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	spackertesting "github.com/arloliu/spacker/testing"
)

func TestIssuer_NextIsMonotonic(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)
	kv := spackertesting.CreateJetStreamKV(t, nc, "reconfig-ids")

	issuer := New(kv, nil)

	first, err := issuer.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), first)

	second, err := issuer.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), second)
}

func TestIssuer_ConcurrentNextNeverDuplicates(t *testing.T) {
	_, nc := spackertesting.StartEmbeddedNATS(t)
	kv := spackertesting.CreateJetStreamKV(t, nc, "reconfig-ids-concurrent")

	issuer := New(kv, nil)

	const n = 20
	var wg sync.WaitGroup
	ids := make([]int64, n)
	for i := range n {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id, err := issuer.Next(context.Background())
			require.NoError(t, err)
			ids[idx] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		require.False(t, seen[id], "duplicate reconfigId issued")
		seen[id] = true
	}
}
