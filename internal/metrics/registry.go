// Package metrics provides Prometheus metrics for hmi-emu.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hmi"

// Registry holds all Prometheus metrics for the service. A nil *Registry is
// valid and records nothing.
type Registry struct {
	// Connection metrics
	Connected          prometheus.Gauge
	ConnectionAttempts *prometheus.CounterVec
	ConnectionLatency  prometheus.Histogram
	Disconnects        prometheus.Counter

	// Polling metrics
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	RangeReads        *prometheus.CounterVec
	ParametersDecoded prometheus.Counter

	// On-demand request metrics
	RequestsTotal *prometheus.CounterVec
	QueueDepth    *prometheus.GaugeVec
	Rejected      *prometheus.CounterVec

	// Snapshot log metrics
	SnapshotRecords     prometheus.Counter
	SnapshotWriteErrors prometheus.Counter

	// MQTT metrics
	MQTTMessagesPublished prometheus.Counter
	MQTTMessagesFailed    prometheus.Counter
	MQTTPublishLatency    prometheus.Histogram
	MQTTBreakerOpen       prometheus.Gauge
}

// NewRegistry creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "connected",
			Help:      "1 while the device connection is in the polling state",
		}),
		ConnectionAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "connection_attempts_total",
			Help:      "Total number of Modbus connection attempts",
		}, []string{"result"}),
		ConnectionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "connection_latency_seconds",
			Help:      "Modbus connection establishment latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Disconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "disconnects_total",
			Help:      "Total number of connections dropped after a transport failure",
		}),

		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "cycles_total",
			Help:      "Total number of poll cycles by outcome",
		}, []string{"status"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "cycle_duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		RangeReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "range_reads_total",
			Help:      "Total number of bulk range reads by result",
		}, []string{"result"}),
		ParametersDecoded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "parameters_decoded_total",
			Help:      "Total number of parameter values decoded by bulk polls",
		}),

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "served_total",
			Help:      "Total number of on-demand requests served by type and result",
		}, []string{"type", "result"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "queue_depth",
			Help:      "Number of on-demand requests waiting for the poll worker",
		}, []string{"type"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "rejected_total",
			Help:      "Total number of inbound requests rejected before queueing",
		}, []string{"type"}),

		SnapshotRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "records_total",
			Help:      "Total number of snapshot records written",
		}),
		SnapshotWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "write_errors_total",
			Help:      "Total number of snapshot records lost to I/O errors",
		}),

		MQTTMessagesPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_published_total",
			Help:      "Total number of MQTT messages published",
		}),
		MQTTMessagesFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_failed_total",
			Help:      "Total number of MQTT messages dropped",
		}),
		MQTTPublishLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "publish_latency_seconds",
			Help:      "MQTT publish latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		MQTTBreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "breaker_open",
			Help:      "1 while the MQTT publish circuit breaker is open",
		}),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// RecordConnection records a connection attempt.
func (r *Registry) RecordConnection(success bool, latency float64) {
	if r == nil {
		return
	}
	r.ConnectionAttempts.WithLabelValues(result(success)).Inc()
	if success {
		r.ConnectionLatency.Observe(latency)
	}
}

// SetConnected updates the connection state gauge.
func (r *Registry) SetConnected(connected bool) {
	if r == nil {
		return
	}
	boolGauge(r.Connected, connected)
}

// RecordDisconnect records a connection dropped by a transport failure.
func (r *Registry) RecordDisconnect() {
	if r == nil {
		return
	}
	r.Disconnects.Inc()
}

// RecordCycle records a finished poll cycle. status is "ok" or "aborted".
func (r *Registry) RecordCycle(status string, duration float64) {
	if r == nil {
		return
	}
	r.CyclesTotal.WithLabelValues(status).Inc()
	r.CycleDuration.Observe(duration)
}

// RecordRangeRead records one bulk range read. res is "ok", "exception"
// or "error".
func (r *Registry) RecordRangeRead(res string, decoded int) {
	if r == nil {
		return
	}
	r.RangeReads.WithLabelValues(res).Inc()
	r.ParametersDecoded.Add(float64(decoded))
}

// RecordRequest records a served on-demand request.
func (r *Registry) RecordRequest(kind, res string) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(kind, res).Inc()
}

// RecordRejected records an inbound request refused before queueing.
func (r *Registry) RecordRejected(kind string) {
	if r == nil {
		return
	}
	r.Rejected.WithLabelValues(kind).Inc()
}

// UpdateQueueDepth sets the number of pending requests of a type.
func (r *Registry) UpdateQueueDepth(kind string, depth int) {
	if r == nil {
		return
	}
	r.QueueDepth.WithLabelValues(kind).Set(float64(depth))
}

// RecordSnapshotWrite records a snapshot record write.
func (r *Registry) RecordSnapshotWrite(success bool) {
	if r == nil {
		return
	}
	if success {
		r.SnapshotRecords.Inc()
		return
	}
	r.SnapshotWriteErrors.Inc()
}

// RecordMQTTPublish records MQTT publish metrics.
func (r *Registry) RecordMQTTPublish(success bool, latency float64) {
	if r == nil {
		return
	}
	if success {
		r.MQTTMessagesPublished.Inc()
		r.MQTTPublishLatency.Observe(latency)
	} else {
		r.MQTTMessagesFailed.Inc()
	}
}

// SetMQTTBreakerOpen updates the circuit breaker gauge.
func (r *Registry) SetMQTTBreakerOpen(open bool) {
	if r == nil {
		return
	}
	boolGauge(r.MQTTBreakerOpen, open)
}
