package spacker

import (
	"errors"

	"github.com/arloliu/spacker/types"
)

// Sentinel errors returned by the Spacker facade. The protocol error kinds
// (plan conflict, snapshot failure, transfer timeout, ingest failure, rewire
// failure, replication failure) and the connectivity error live in package
// types and are re-exported here so callers only need to import the root
// package.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("spacker: invalid configuration")

	// ErrNATSConnectionRequired is returned when the NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("spacker: NATS connection is required")

	// ErrAlreadyStarted is returned when Start is called on an already running Spacker.
	ErrAlreadyStarted = errors.New("spacker: already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("spacker: not started")
)

// Re-exported protocol error kinds, see package types for definitions.
var (
	ErrPlanConflict       = types.ErrPlanConflict
	ErrSnapshotFailure    = types.ErrSnapshotFailure
	ErrTransferTimeout    = types.ErrTransferTimeout
	ErrIngestFailure      = types.ErrIngestFailure
	ErrRewireFailure      = types.ErrRewireFailure
	ErrReplicationFailure = types.ErrReplicationFailure
	ErrConnectivity       = types.ErrConnectivity
)

// IsRetryable reports whether err is safe to retry without recomputing the
// current JobExecutionPlan. See types.IsRetryable.
func IsRetryable(err error) bool { return types.IsRetryable(err) }
