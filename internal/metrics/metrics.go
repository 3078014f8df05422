// Package metrics exposes pganonproxy's Prometheus collector, grounded on
// the teacher's internal/metrics package and trimmed from multi-tenant
// labels down to the single-upstream shape this proxy has.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for pganonproxy.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  prometheus.Gauge
	connectionsIdle    prometheus.Gauge
	connectionsTotal   prometheus.Gauge
	connectionsWaiting prometheus.Gauge
	poolExhausted      prometheus.Counter

	sessionDuration   prometheus.Histogram
	acquireDuration   prometheus.Histogram
	anonymizeDuration *prometheus.HistogramVec
	partitionsTotal   *prometheus.CounterVec
	authFailures      prometheus.Counter
	protocolErrors    *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics using a custom registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pganonproxy_connections_active",
			Help: "Number of backend connections currently held by a client session",
		}),
		connectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pganonproxy_connections_idle",
			Help: "Number of idle backend connections in the pool",
		}),
		connectionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pganonproxy_connections_total",
			Help: "Total backend connections currently open",
		}),
		connectionsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pganonproxy_connections_waiting",
			Help: "Number of sessions waiting for a pool acquire",
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pganonproxy_pool_exhausted_total",
			Help: "Total number of times the backend pool was exhausted",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pganonproxy_session_duration_seconds",
			Help:    "Duration of client sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pganonproxy_acquire_duration_seconds",
			Help:    "Time spent waiting for pool.Acquire()",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		anonymizeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pganonproxy_anonymize_duration_seconds",
			Help:    "Time spent running the anonymization engine over one record batch",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"criterion"}),
		partitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pganonproxy_partitions_total",
			Help: "Total Mondrian partitions produced",
		}, []string{"criterion"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pganonproxy_auth_failures_total",
			Help: "Total client authentication failures",
		}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pganonproxy_protocol_errors_total",
			Help: "Total wire-protocol decode errors by class",
		}, []string{"class"}),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.poolExhausted,
		c.sessionDuration,
		c.acquireDuration,
		c.anonymizeDuration,
		c.partitionsTotal,
		c.authFailures,
		c.protocolErrors,
	)

	return c
}

// UpdatePoolStats updates the pool gauge metrics from a snapshot.
func (c *Collector) UpdatePoolStats(active, idle, total, waiting int) {
	c.connectionsActive.Set(float64(active))
	c.connectionsIdle.Set(float64(idle))
	c.connectionsTotal.Set(float64(total))
	c.connectionsWaiting.Set(float64(waiting))
}

// PoolExhausted increments the pool exhaustion counter.
func (c *Collector) PoolExhausted() { c.poolExhausted.Inc() }

// SessionCompleted observes a completed client session's duration.
func (c *Collector) SessionCompleted(d time.Duration) { c.sessionDuration.Observe(d.Seconds()) }

// AcquireDuration observes time spent waiting for a pool connection.
func (c *Collector) AcquireDuration(d time.Duration) { c.acquireDuration.Observe(d.Seconds()) }

// AnonymizeCompleted observes one anonymization engine run.
func (c *Collector) AnonymizeCompleted(criterion string, d time.Duration, partitions int) {
	c.anonymizeDuration.WithLabelValues(criterion).Observe(d.Seconds())
	c.partitionsTotal.WithLabelValues(criterion).Add(float64(partitions))
}

// AuthFailure increments the auth failure counter.
func (c *Collector) AuthFailure() { c.authFailures.Inc() }

// ProtocolError increments the protocol error counter for a given class.
func (c *Collector) ProtocolError(class string) { c.protocolErrors.WithLabelValues(class).Inc() }
