package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/spacker/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	reconfigDuration  *prometheus.HistogramVec
	reconfigTriggers  *prometheus.CounterVec
	affectedKeyGroups prometheus.Gauge
	planConflicts     prometheus.Counter
	unackedTasks      prometheus.Gauge

	transferLatency *prometheus.HistogramVec
	transferBytes   prometheus.Histogram
	transferTimeout prometheus.Counter
	bufferDepth     *prometheus.GaugeVec

	replicationLag      prometheus.Histogram
	replicationFailures *prometheus.CounterVec

	rewires        *prometheus.HistogramVec
	rewireFailures prometheus.Counter
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "spacker" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "spacker"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.reconfigDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "reconfig",
			Name:      "duration_seconds",
			Help:      "Duration of a reconfiguration round from Triggered to Committed/aborted, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"})

		p.reconfigTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reconfig",
			Name:      "triggers_total",
			Help:      "Total reconfiguration triggers by scenario.",
		}, []string{"scenario"})

		p.affectedKeyGroups = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "reconfig",
			Name:      "affected_key_groups",
			Help:      "Number of key groups touched by the in-flight reconfiguration.",
		})

		p.planConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reconfig",
			Name:      "plan_conflicts_total",
			Help:      "Total reconfiguration rounds aborted, whatever the cause.",
		})

		p.unackedTasks = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "reconfig",
			Name:      "unacked_tasks",
			Help:      "Number of migrating key groups not yet acknowledged for the current reconfig point.",
		})

		p.transferLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "transfer",
			Name:      "latency_seconds",
			Help:      "Latency of a single key-group state handle transfer.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{})

		p.transferBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "transfer",
			Name:      "bytes",
			Help:      "Size in bytes of key-group state handle transfers.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 12),
		})

		p.transferTimeout = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "transfer",
			Name:      "timeouts_total",
			Help:      "Total transfers that exceeded their deadline.",
		})

		p.bufferDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "transfer",
			Name:      "buffer_depth",
			Help:      "Current depth of a task's migration buffer queues, by queue name.",
		}, []string{"queue"})

		p.replicationLag = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "replication",
			Name:      "lag_seconds",
			Help:      "Delay between a state mutation and its delivery to the standby replica set.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		})

		p.replicationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "replication",
			Name:      "failures_total",
			Help:      "Total failed replica pushes by reason.",
		}, []string{"reason"})

		p.rewires = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "rewire",
			Name:      "channel_count",
			Help:      "Resulting input channel count after a completed rewire.",
			Buckets:   prometheus.LinearBuckets(0, 8, 16),
		}, []string{})

		p.rewireFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rewire",
			Name:      "failures_total",
			Help:      "Total failed rewire attempts.",
		})

		p.reg.MustRegister(
			p.reconfigDuration, p.reconfigTriggers, p.affectedKeyGroups, p.planConflicts, p.unackedTasks,
			p.transferLatency, p.transferBytes, p.transferTimeout, p.bufferDepth,
			p.replicationLag, p.replicationFailures,
			p.rewires, p.rewireFailures,
		)
	})
}

func (p *PrometheusCollector) RecordReconfigDuration(duration float64, outcome string) {
	p.ensureRegistered()
	p.reconfigDuration.WithLabelValues(outcome).Observe(duration)
}

func (p *PrometheusCollector) RecordReconfigTrigger(scenario string) {
	p.ensureRegistered()
	p.reconfigTriggers.WithLabelValues(scenario).Inc()
}

func (p *PrometheusCollector) SetAffectedKeyGroups(count int) {
	p.ensureRegistered()
	p.affectedKeyGroups.Set(float64(count))
}

func (p *PrometheusCollector) RecordPlanConflict() {
	p.ensureRegistered()
	p.planConflicts.Inc()
}

func (p *PrometheusCollector) SetUnackedTasks(count int) {
	p.ensureRegistered()
	p.unackedTasks.Set(float64(count))
}

func (p *PrometheusCollector) RecordTransferLatency(duration float64) {
	p.ensureRegistered()
	p.transferLatency.WithLabelValues().Observe(duration)
}

func (p *PrometheusCollector) RecordTransferBytes(bytes int64) {
	p.ensureRegistered()
	p.transferBytes.Observe(float64(bytes))
}

func (p *PrometheusCollector) RecordTransferTimeout() {
	p.ensureRegistered()
	p.transferTimeout.Inc()
}

func (p *PrometheusCollector) SetBufferDepth(queue string, depth int) {
	p.ensureRegistered()
	p.bufferDepth.WithLabelValues(queue).Set(float64(depth))
}

func (p *PrometheusCollector) RecordReplicationLag(duration float64) {
	p.ensureRegistered()
	p.replicationLag.Observe(duration)
}

func (p *PrometheusCollector) RecordReplicationFailure(reason string) {
	p.ensureRegistered()
	p.replicationFailures.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordRewire(channelCount int) {
	p.ensureRegistered()
	p.rewires.WithLabelValues().Observe(float64(channelCount))
}

func (p *PrometheusCollector) RecordRewireFailure() {
	p.ensureRegistered()
	p.rewireFailures.Inc()
}
