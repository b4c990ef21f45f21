package spacker

import (
	"fmt"
	"time"
)

// ReconfigConfig controls how the planner picks a reconfiguration scenario
// and shapes each round's migration.
type ReconfigConfig struct {
	// Scenario selects the planner strategy: "shuffle", "load_balance",
	// "load_balance_zipf", "profiling", or "static".
	Scenario string `yaml:"scenario"`

	// AffectedKeys is the target number of key groups to migrate per reconfig.
	AffectedKeys int `yaml:"affectedKeys"`

	// AffectedTasks is an upper bound on the number of tasks involved in one round.
	AffectedTasks int `yaml:"affectedTasks"`

	// SyncKeys is the batch size: how many key groups to transfer per RPC
	// round. 0 means the whole affected range goes in one round.
	SyncKeys int `yaml:"syncKeys"`

	// OrderFunction picks the drain order for migrating key groups:
	// "default", "reverse", or "random". Influences tail latency.
	OrderFunction string `yaml:"orderFunction"`

	// TimeoutMs must be > 0. Spacker uses it as the interval of the
	// StateReplicator's replication cycle (when ReplicateKeysFilter > 0).
	// The coordinator puts no deadline on a round: it neither commits
	// partially nor aborts when a round runs longer than TimeoutMs.
	TimeoutMs int `yaml:"timeoutMs"`
}

// SnapshotConfig controls how sources produce KeyGroupStateHandles.
type SnapshotConfig struct {
	// ChangelogEnabled is loaded from YAML and carried in Config; no snapshot
	// or replication path in this module reads it, so snapshots are full
	// per-kg dumps whatever its value.
	ChangelogEnabled bool `yaml:"changelogEnabled"`
}

// StateBackendConfig controls the state-backend side of the snapshot path.
type StateBackendConfig struct {
	// Async is loaded from YAML and carried in Config; no snapshot path in
	// this module reads it, and snapshots do not overlap with record processing.
	Async bool `yaml:"async"`
}

// NettyConfig controls wire framing for state payload transmission over
// transport.Client.DispatchStateToTask.
type NettyConfig struct {
	// StateTransmissionEnabled gates chunked transmission; both this and
	// ChunkedEnabled must be set for large payloads to actually split.
	StateTransmissionEnabled bool `yaml:"stateTransmissionEnabled"`

	// ChunkedEnabled splits payloads over ChunkSize bytes into several
	// dispatch_state_to_task RPCs instead of one oversized message; the
	// destination reassembles them before the handler runs.
	ChunkedEnabled bool `yaml:"chunkedEnabled"`

	// ChunkSize is the chunk size in bytes when ChunkedEnabled is set.
	ChunkSize int `yaml:"chunkSize"`
}

// KVBucketConfig configures NATS JetStream KV bucket names and TTLs used
// for reconfigId bookkeeping and task liveness.
type KVBucketConfig struct {
	// ReconfigIDBucket holds the monotonic reconfigId counter.
	ReconfigIDBucket string `yaml:"reconfigIdBucket"`

	// LivenessBucket holds per-task liveness beacons.
	LivenessBucket string `yaml:"livenessBucket"`

	// LivenessTTL is the KV entry TTL for a liveness beacon; must be at least
	// twice LivenessPeriod to tolerate one missed publish.
	LivenessTTL time.Duration `yaml:"livenessTtl"`
}

// Config is the configuration for a Spacker instance.
//
// All duration fields accept standard Go duration strings like "30s", "5m".
type Config struct {
	// MaxParallelism is the number of key groups the job is divided into
	// (the hashed key-group space size, §3).
	MaxParallelism uint32 `yaml:"maxParallelism"`

	// NumOpenedSubtasks is the number of provisioned subtask slots; must be
	// >= the number of subtasks actually running.
	NumOpenedSubtasks int `yaml:"numOpenedSubtasks"`

	// ReplicateKeysFilter: 0 disables replication; N>0 pushes every changed
	// key group on every Nth replication cycle (replicator.FilterEveryN);
	// 1 replicates on every cycle.
	ReplicateKeysFilter int `yaml:"replicateKeysFilter"`

	// LivenessPeriod is how often a task publishes its liveness beacon.
	LivenessPeriod time.Duration `yaml:"livenessPeriod"`

	// OperationTimeout bounds individual KV/RPC operations.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// StartupTimeout bounds Spacker.Start.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout bounds Spacker.Stop.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	Reconfig     ReconfigConfig     `yaml:"reconfig"`
	Snapshot     SnapshotConfig     `yaml:"snapshot"`
	StateBackend StateBackendConfig `yaml:"stateBackend"`
	Netty        NettyConfig        `yaml:"netty"`
	KVBuckets    KVBucketConfig     `yaml:"kvBuckets"`
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelism:       128,
		NumOpenedSubtasks:    1,
		ReplicateKeysFilter:  0,
		LivenessPeriod:       2 * time.Second,
		OperationTimeout:     10 * time.Second,
		StartupTimeout:       30 * time.Second,
		ShutdownTimeout:      10 * time.Second,
		Reconfig: ReconfigConfig{
			Scenario:      "shuffle",
			AffectedKeys:  0,
			AffectedTasks: 0,
			SyncKeys:      0,
			OrderFunction: "default",
			TimeoutMs:     30_000,
		},
		KVBuckets: KVBucketConfig{
			ReconfigIDBucket: "spacker-reconfig",
			LivenessBucket:   "spacker-liveness",
			LivenessTTL:      6 * time.Second,
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.MaxParallelism == 0 {
		cfg.MaxParallelism = defaults.MaxParallelism
	}
	if cfg.NumOpenedSubtasks == 0 {
		cfg.NumOpenedSubtasks = defaults.NumOpenedSubtasks
	}
	if cfg.LivenessPeriod == 0 {
		cfg.LivenessPeriod = defaults.LivenessPeriod
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Reconfig.Scenario == "" {
		cfg.Reconfig.Scenario = defaults.Reconfig.Scenario
	}
	if cfg.Reconfig.OrderFunction == "" {
		cfg.Reconfig.OrderFunction = defaults.Reconfig.OrderFunction
	}
	if cfg.Reconfig.TimeoutMs == 0 {
		cfg.Reconfig.TimeoutMs = defaults.Reconfig.TimeoutMs
	}
	if cfg.KVBuckets.ReconfigIDBucket == "" {
		cfg.KVBuckets.ReconfigIDBucket = defaults.KVBuckets.ReconfigIDBucket
	}
	if cfg.KVBuckets.LivenessBucket == "" {
		cfg.KVBuckets.LivenessBucket = defaults.KVBuckets.LivenessBucket
	}
	if cfg.KVBuckets.LivenessTTL == 0 {
		cfg.KVBuckets.LivenessTTL = defaults.KVBuckets.LivenessTTL
	}
	// ReplicateKeysFilter of 0 is a valid "replication disabled" value, so
	// it is never defaulted.
}

var validScenarios = map[string]bool{
	"shuffle":           true,
	"load_balance":      true,
	"load_balance_zipf": true,
	"profiling":         true,
	"static":            true,
}

var validOrderFunctions = map[string]bool{
	"default": true,
	"reverse": true,
	"random":  true,
}

// Validate checks configuration constraints and returns an error for invalid values.
func (cfg *Config) Validate() error {
	if cfg.MaxParallelism == 0 {
		return fmt.Errorf("%w: maxParallelism must be > 0", ErrInvalidConfig)
	}
	if cfg.NumOpenedSubtasks <= 0 {
		return fmt.Errorf("%w: numOpenedSubtasks must be > 0", ErrInvalidConfig)
	}
	if !validScenarios[cfg.Reconfig.Scenario] {
		return fmt.Errorf("%w: reconfig.scenario %q is not one of shuffle/load_balance/load_balance_zipf/profiling/static",
			ErrInvalidConfig, cfg.Reconfig.Scenario)
	}
	if !validOrderFunctions[cfg.Reconfig.OrderFunction] {
		return fmt.Errorf("%w: reconfig.orderFunction %q is not one of default/reverse/random",
			ErrInvalidConfig, cfg.Reconfig.OrderFunction)
	}
	if cfg.Reconfig.SyncKeys < 0 {
		return fmt.Errorf("%w: reconfig.syncKeys must be >= 0", ErrInvalidConfig)
	}
	if cfg.Reconfig.TimeoutMs <= 0 {
		return fmt.Errorf("%w: reconfig.timeoutMs must be > 0", ErrInvalidConfig)
	}
	if cfg.ReplicateKeysFilter < 0 {
		return fmt.Errorf("%w: replicateKeysFilter must be >= 0", ErrInvalidConfig)
	}
	if cfg.Netty.ChunkedEnabled && cfg.Netty.ChunkSize <= 0 {
		return fmt.Errorf("%w: netty.chunkSize must be > 0 when netty.chunkedEnabled is set", ErrInvalidConfig)
	}
	if cfg.KVBuckets.LivenessTTL < 2*cfg.LivenessPeriod {
		return fmt.Errorf("%w: kvBuckets.livenessTtl (%v) must be >= 2*livenessPeriod (%v) to tolerate one missed publish",
			ErrInvalidConfig, cfg.KVBuckets.LivenessTTL, cfg.LivenessPeriod)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for
// non-recommended values, called after Validate() to provide operator guidance.
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.Reconfig.TimeoutMs < 1000 {
		logger.Warn("reconfig.timeoutMs is very short, the replication cycle runs at this interval",
			"timeoutMs", cfg.Reconfig.TimeoutMs, "recommended", "30000 or higher")
	}
	if cfg.ReplicateKeysFilter == 1 {
		logger.Warn("replicateKeysFilter=1 replicates every key group every cycle",
			"recommended", "a period N>1 unless full hot-standby coverage is required")
	}
	if cfg.Netty.ChunkedEnabled && !cfg.Netty.StateTransmissionEnabled {
		logger.Warn("netty.chunkedEnabled is set but netty.stateTransmissionEnabled is false, chunking has no effect",
			"recommended", "set stateTransmissionEnabled=true to actually split large payloads")
	}
}

// TestConfig returns a configuration with fast timings for tests.
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.LivenessPeriod = 20 * time.Millisecond
	cfg.KVBuckets.LivenessTTL = 100 * time.Millisecond
	cfg.OperationTimeout = 2 * time.Second
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Reconfig.TimeoutMs = 5000

	return cfg
}
