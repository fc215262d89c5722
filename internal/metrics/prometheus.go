package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tierbot"

// Metrics holds all Prometheus metrics for the bot.
// All Record/Update methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Inbound metrics
	UpdatesReceivedTotal  *prometheus.CounterVec
	UpdatesDuplicateTotal prometheus.Counter
	RequestTimeoutsTotal  prometheus.Counter

	// Dispatch metrics
	DispatchDuration    prometheus.Histogram
	DispatchViewsTotal  *prometheus.CounterVec
	GatedViewsTotal     *prometheus.CounterVec
	RenderFailuresTotal prometheus.Counter

	// Admin metrics
	AdminCommandsTotal *prometheus.CounterVec

	// Store metrics
	StoreFlushesTotal   prometheus.Counter
	StoreFlushFailures  prometheus.Counter
	StoreFlushDuration  prometheus.Histogram
	EntitlementsByTier  *prometheus.GaugeVec
	StoreLoadRecoveries prometheus.Counter

	// Outbound metrics
	SendAttemptsTotal *prometheus.CounterVec
	SendFailuresTotal *prometheus.CounterVec

	// Liveness metrics
	LivenessProbesTotal *prometheus.CounterVec

	// Worker pool metrics
	WorkerQueueDepth prometheus.Gauge
	WorkerQueueFull  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UpdatesReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "updates_received_total",
			Help:      "Total number of provider updates received",
		}, []string{"kind", "mode"}),
		UpdatesDuplicateTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "updates_duplicate_total",
			Help:      "Total number of redelivered updates dropped by de-duplication",
		}),
		RequestTimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "request_timeouts_total",
			Help:      "Total number of requests that exceeded the per-request deadline",
		}),

		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent resolving and rendering a menu view",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		DispatchViewsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "views_total",
			Help:      "Total number of rendered views by node",
		}, []string{"node"}),
		GatedViewsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "gated_views_total",
			Help:      "Total number of requests answered with the upsell view",
		}, []string{"required_tier"}),
		RenderFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "render_failures_total",
			Help:      "Total number of requests that failed while rendering",
		}),

		AdminCommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "commands_total",
			Help:      "Total number of admin commands by command and outcome",
		}, []string{"command", "outcome"}),

		StoreFlushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "flushes_total",
			Help:      "Total number of entitlement flushes",
		}),
		StoreFlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "flush_failures_total",
			Help:      "Total number of failed entitlement flushes",
		}),
		StoreFlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "flush_duration_seconds",
			Help:      "Entitlement flush duration",
			Buckets:   prometheus.DefBuckets,
		}),
		EntitlementsByTier: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "entitlements",
			Help:      "Current number of entitlements by tier",
		}, []string{"tier"}),
		StoreLoadRecoveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "load_recoveries_total",
			Help:      "Total number of loads that discarded a corrupt entitlement file",
		}),

		SendAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "send_attempts_total",
			Help:      "Total number of provider send attempts",
		}, []string{"kind"}),
		SendFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "send_failures_total",
			Help:      "Total number of sends that failed after all retries",
		}, []string{"kind"}),

		LivenessProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "probes_total",
			Help:      "Total number of self-ping probes by outcome",
		}, []string{"outcome"}),

		WorkerQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "queue_depth",
			Help:      "Number of queued webhook tasks",
		}),
		WorkerQueueFull: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "queue_full_total",
			Help:      "Total number of webhook tasks rejected because the queue was full",
		}),
	}
}

// RecordUpdate records a received provider update
func (m *Metrics) RecordUpdate(kind, mode string) {
	if m == nil {
		return
	}
	m.UpdatesReceivedTotal.WithLabelValues(kind, mode).Inc()
}

// RecordDuplicate records a dropped redelivery
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.UpdatesDuplicateTotal.Inc()
}

// RecordRequestTimeout records a request that hit its deadline
func (m *Metrics) RecordRequestTimeout() {
	if m == nil {
		return
	}
	m.RequestTimeoutsTotal.Inc()
}

// RecordDispatch records a rendered view
func (m *Metrics) RecordDispatch(node string, duration float64) {
	if m == nil {
		return
	}
	m.DispatchDuration.Observe(duration)
	m.DispatchViewsTotal.WithLabelValues(node).Inc()
}

// RecordGatedView records an upsell rendered in place of gated content
func (m *Metrics) RecordGatedView(required string) {
	if m == nil {
		return
	}
	m.GatedViewsTotal.WithLabelValues(required).Inc()
}

// RecordRenderFailure records a request-local render failure
func (m *Metrics) RecordRenderFailure() {
	if m == nil {
		return
	}
	m.RenderFailuresTotal.Inc()
}

// RecordAdminCommand records an admin command outcome
func (m *Metrics) RecordAdminCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.AdminCommandsTotal.WithLabelValues(command, outcome).Inc()
}

// RecordFlush records an entitlement flush
func (m *Metrics) RecordFlush(duration float64, err error) {
	if m == nil {
		return
	}
	m.StoreFlushesTotal.Inc()
	m.StoreFlushDuration.Observe(duration)
	if err != nil {
		m.StoreFlushFailures.Inc()
	}
}

// UpdateEntitlements sets the per-tier entitlement gauge
func (m *Metrics) UpdateEntitlements(tier string, count int) {
	if m == nil {
		return
	}
	m.EntitlementsByTier.WithLabelValues(tier).Set(float64(count))
}

// RecordLoadRecovery records a corrupt entitlement file being discarded
func (m *Metrics) RecordLoadRecovery() {
	if m == nil {
		return
	}
	m.StoreLoadRecoveries.Inc()
}

// RecordSendAttempt records one outbound provider call
func (m *Metrics) RecordSendAttempt(kind string) {
	if m == nil {
		return
	}
	m.SendAttemptsTotal.WithLabelValues(kind).Inc()
}

// RecordSendFailure records an outbound call that exhausted its retries
func (m *Metrics) RecordSendFailure(kind string) {
	if m == nil {
		return
	}
	m.SendFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordLivenessProbe records a self-ping outcome
func (m *Metrics) RecordLivenessProbe(outcome string) {
	if m == nil {
		return
	}
	m.LivenessProbesTotal.WithLabelValues(outcome).Inc()
}

// UpdateWorkerQueue sets the worker pool queue depth
func (m *Metrics) UpdateWorkerQueue(depth int) {
	if m == nil {
		return
	}
	m.WorkerQueueDepth.Set(float64(depth))
}

// RecordQueueFull records a task rejected on a full queue
func (m *Metrics) RecordQueueFull() {
	if m == nil {
		return
	}
	m.WorkerQueueFull.Inc()
}
