package metrics_test

import (
	"testing"

	"github.com/alunegov/hmi-emu/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_RecordCycleAndRanges(t *testing.T) {
	r := metrics.NewRegistry(prometheus.NewRegistry())

	r.RecordCycle("ok", 0.01)
	r.RecordCycle("ok", 0.02)
	r.RecordCycle("aborted", 0.5)
	r.RecordRangeRead("ok", 3)
	r.RecordRangeRead("exception", 2)

	if got := testutil.ToFloat64(r.CyclesTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.CyclesTotal.WithLabelValues("aborted")); got != 1 {
		t.Errorf("aborted cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.ParametersDecoded); got != 5 {
		t.Errorf("parameters decoded = %v, want 5", got)
	}
}

func TestRegistry_Gauges(t *testing.T) {
	r := metrics.NewRegistry(prometheus.NewRegistry())

	r.SetConnected(true)
	if got := testutil.ToFloat64(r.Connected); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	r.SetConnected(false)
	if got := testutil.ToFloat64(r.Connected); got != 0 {
		t.Errorf("connected = %v, want 0", got)
	}

	r.UpdateQueueDepth("read", 4)
	if got := testutil.ToFloat64(r.QueueDepth.WithLabelValues("read")); got != 4 {
		t.Errorf("read queue depth = %v, want 4", got)
	}
}

func TestRegistry_Counters(t *testing.T) {
	r := metrics.NewRegistry(prometheus.NewRegistry())

	r.RecordConnection(true, 0.1)
	r.RecordConnection(false, 0)
	r.RecordDisconnect()
	r.RecordRequest("write", "ok")
	r.RecordRejected("save")
	r.RecordSnapshotWrite(true)
	r.RecordSnapshotWrite(false)
	r.RecordMQTTPublish(true, 0.001)
	r.RecordMQTTPublish(false, 0)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"connect success", r.ConnectionAttempts.WithLabelValues("success"), 1},
		{"connect failure", r.ConnectionAttempts.WithLabelValues("failure"), 1},
		{"disconnects", r.Disconnects, 1},
		{"write requests", r.RequestsTotal.WithLabelValues("write", "ok"), 1},
		{"rejected saves", r.Rejected.WithLabelValues("save"), 1},
		{"snapshot records", r.SnapshotRecords, 1},
		{"snapshot errors", r.SnapshotWriteErrors, 1},
		{"mqtt published", r.MQTTMessagesPublished, 1},
		{"mqtt failed", r.MQTTMessagesFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *metrics.Registry
	r.RecordCycle("ok", 1)
	r.RecordRangeRead("error", 0)
	r.SetConnected(true)
	r.RecordConnection(true, 0)
	r.RecordDisconnect()
	r.RecordRequest("read", "ok")
	r.RecordRejected("load")
	r.UpdateQueueDepth("write", 1)
	r.RecordSnapshotWrite(true)
	r.RecordMQTTPublish(true, 0)
	r.SetMQTTBreakerOpen(true)
}

func TestRegistry_SeparateRegistries(t *testing.T) {
	// Two registries on distinct registerers must not collide.
	metrics.NewRegistry(prometheus.NewRegistry())
	metrics.NewRegistry(prometheus.NewRegistry())
}
