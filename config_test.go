package spacker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, uint32(128), cfg.MaxParallelism)
	require.Equal(t, 1, cfg.NumOpenedSubtasks)
	require.Equal(t, 0, cfg.ReplicateKeysFilter)
	require.Equal(t, "shuffle", cfg.Reconfig.Scenario)
	require.Equal(t, "default", cfg.Reconfig.OrderFunction)
	require.Equal(t, "spacker-reconfig", cfg.KVBuckets.ReconfigIDBucket)
	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	cfg := Config{}
	SetDefaults(&cfg)

	require.Equal(t, uint32(128), cfg.MaxParallelism)
	require.Equal(t, "shuffle", cfg.Reconfig.Scenario)
	require.Equal(t, "spacker-liveness", cfg.KVBuckets.LivenessBucket)

	custom := Config{MaxParallelism: 64, Reconfig: ReconfigConfig{Scenario: "load_balance", OrderFunction: "random"}}
	SetDefaults(&custom)
	require.Equal(t, uint32(64), custom.MaxParallelism)
	require.Equal(t, "load_balance", custom.Reconfig.Scenario)
	require.Equal(t, "random", custom.Reconfig.OrderFunction)
}

func TestConfig_Validate_RejectsUnknownScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reconfig.Scenario = "bogus"

	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate_RejectsLivenessTTLBelowTwicePeriod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LivenessPeriod = 5 * time.Second
	cfg.KVBuckets.LivenessTTL = 5 * time.Second

	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestTestConfig_HasFastTimings(t *testing.T) {
	cfg := TestConfig()
	require.NoError(t, cfg.Validate())
	require.Less(t, cfg.LivenessPeriod, DefaultConfig().LivenessPeriod)
}
