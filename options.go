package spacker

import (
	"github.com/arloliu/spacker/coordinator"
	"github.com/arloliu/spacker/placement"
	"github.com/arloliu/spacker/replicator"
)

// Option configures a Spacker with optional dependencies.
type Option func(*spackerOptions)

// spackerOptions holds optional Spacker configuration.
type spackerOptions struct {
	hooks    *Hooks
	metrics  MetricsCollector
	logger   Logger
	placer   placement.Placer
	injector coordinator.BarrierInjector
	rewirer  coordinator.Rewirer

	replicaTargets []replicator.Target
}

// WithHooks sets lifecycle event hooks fired by the ReconfigCoordinator.
func WithHooks(hooks *Hooks) Option {
	return func(o *spackerOptions) { o.hooks = hooks }
}

// WithMetrics sets a metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *spackerOptions) { o.metrics = metrics }
}

// WithLogger sets a logger.
func WithLogger(logger Logger) Option {
	return func(o *spackerOptions) { o.logger = logger }
}

// WithPlacer overrides the default placement.Placer derived from
// Config.Reconfig.Scenario.
func WithPlacer(placer placement.Placer) Option {
	return func(o *spackerOptions) { o.placer = placer }
}

// WithBarrierInjector supplies the host engine's checkpoint-barrier
// mechanism and gives this Spacker the coordinator role; without it
// TriggerReconfig returns an error before planning anything.
func WithBarrierInjector(injector coordinator.BarrierInjector) Option {
	return func(o *spackerOptions) { o.injector = injector }
}

// WithRewirer supplies the per-subtask channel-rewiring callback (C8),
// typically backed by rewire.Task.Rewire.
func WithRewirer(rewirer coordinator.Rewirer) Option {
	return func(o *spackerOptions) { o.rewirer = rewirer }
}

// WithReplicaTargets supplies the standby targets this task's StateReplicator
// pushes delta snapshots to (§4.7); only takes effect when
// Config.ReplicateKeysFilter > 0. Use NewTransportReplicaTarget to address a
// standby by task id over the same NATS connection.
func WithReplicaTargets(targets ...replicator.Target) Option {
	return func(o *spackerOptions) { o.replicaTargets = append(o.replicaTargets, targets...) }
}
