// Package types provides core type definitions and interfaces shared across
// the spacker module.
//
// Keeping these types in a separate package avoids import cycles between the
// root spacker package, its component packages (keygroup, plan, coordinator,
// ...), and their internal implementations.
//
// Key types:
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
//   - Hooks: Lifecycle callbacks for reconfiguration and migration events
//   - Error kinds: PlanConflict, SnapshotFailure, TransferTimeout, IngestFailure,
//     RewireFailure, ReplicationFailure
package types
