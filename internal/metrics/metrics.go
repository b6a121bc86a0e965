// Package metrics exposes foresightd measurements on a private Prometheus
// registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "foresight"

// Metrics records queue, sync, scheduler and reminder measurements.
type Metrics struct {
	registry *prometheus.Registry

	groupDuration *prometheus.HistogramVec
	groups        *prometheus.CounterVec
	queueDepth    prometheus.Gauge

	connections prometheus.Gauge
	rejected    *prometheus.CounterVec
	pushes      prometheus.Counter
	pushBytes   prometheus.Counter
	skipped     prometheus.Counter

	sweeps      prometheus.Counter
	transitions prometheus.Counter
	failures    prometheus.Counter

	reminders *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		groupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_group_duration_seconds",
			Help:      "Time spent running one queued operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_groups_total",
			Help:      "Queued operations by outcome.",
		}, []string{"operation", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Operations waiting in the mutation queue.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_connections",
			Help:      "Live websocket sessions.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rejected_total",
			Help:      "Refused websocket handshakes by reason.",
		}, []string{"reason"}),
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_pushes_total",
			Help:      "Snapshots written to sessions.",
		}),
		pushBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_push_bytes_total",
			Help:      "Bytes of snapshot payload written to sessions.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_pushes_skipped_total",
			Help:      "Snapshots not sent because the session already had them.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed lifecycle sweeps.",
		}),
		transitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_transitions_total",
			Help:      "Questions changed by lifecycle sweeps.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Questions a sweep could not update.",
		}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Resolve reminders by delivery outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.groupDuration, m.groups, m.queueDepth,
		m.connections, m.rejected, m.pushes, m.pushBytes, m.skipped,
		m.sweeps, m.transitions, m.failures,
		m.reminders,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records one queued operation.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.groups.WithLabelValues(operation, outcome).Inc()
	m.groupDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// QueueDepth records the number of waiting operations.
func (m *Metrics) QueueDepth(depth int) { m.queueDepth.Set(float64(depth)) }

// SessionOpened counts a registered websocket session.
func (m *Metrics) SessionOpened() { m.connections.Inc() }

// SessionClosed counts an evicted or closed websocket session.
func (m *Metrics) SessionClosed() { m.connections.Dec() }

// HandshakeRejected counts a refused handshake.
func (m *Metrics) HandshakeRejected(reason string) { m.rejected.WithLabelValues(reason).Inc() }

// SnapshotPushed counts one delivered snapshot.
func (m *Metrics) SnapshotPushed(bytes int) {
	m.pushes.Inc()
	m.pushBytes.Add(float64(bytes))
}

// SnapshotSkipped counts a snapshot identical to the last one delivered.
func (m *Metrics) SnapshotSkipped() { m.skipped.Inc() }

// SweepFinished records one scheduler pass.
func (m *Metrics) SweepFinished(transitions, failures int) {
	m.sweeps.Inc()
	m.transitions.Add(float64(transitions))
	m.failures.Add(float64(failures))
}

// ReminderDelivered records a reminder send attempt.
func (m *Metrics) ReminderDelivered(ok bool) {
	if ok {
		m.reminders.WithLabelValues("sent").Inc()
		return
	}
	m.reminders.WithLabelValues("failed").Inc()
}
