package ninedoor

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks operational counters for a running server: atomic
// counters for dispatched requests, back-pressure rejections,
// revocations, and telemetry bytes accepted. It satisfies
// internal/dispatcher.Metrics structurally, so the dispatcher never
// imports this package.
type Metrics struct {
	Ops            atomic.Uint64 // total dispatched requests (any outcome)
	Backpressure   atomic.Uint64 // tag-window-full or queue-depth-exceeded rejections
	Revocations    atomic.Uint64 // budget-exhaustion/kill revocation events applied
	TelemetryBytes atomic.Uint64 // bytes accepted by telemetry file writes

	StartTime atomic.Int64 // server start timestamp (UnixNano)
}

// NewMetrics constructs a Metrics with its start time stamped to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) IncOps()          { m.Ops.Add(1) }
func (m *Metrics) IncBackpressure() { m.Backpressure.Add(1) }
func (m *Metrics) IncRevocations()  { m.Revocations.Add(1) }

// AddTelemetryBytes records bytes accepted by a telemetry write.
func (m *Metrics) AddTelemetryBytes(n int) {
	m.TelemetryBytes.Add(uint64(n))
}

// MetricsSnapshot is a point-in-time copy of Metrics safe to hand to a
// caller without further synchronization.
type MetricsSnapshot struct {
	Ops            uint64
	Backpressure   uint64
	Revocations    uint64
	TelemetryBytes uint64
	UptimeNs       uint64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Ops:            m.Ops.Load(),
		Backpressure:   m.Backpressure.Load(),
		Revocations:    m.Revocations.Load(),
		TelemetryBytes: m.TelemetryBytes.Load(),
		UptimeNs:       uint64(time.Now().UnixNano() - m.StartTime.Load()),
	}
}

// PrometheusExporter adapts Metrics to a prometheus.Collector, the way
// ghjramos-aistore exposes its own atomic counters through
// client_golang rather than a hand-rolled /metrics text writer.
type PrometheusExporter struct {
	metrics *Metrics

	ops          prometheus.Desc
	backpressure prometheus.Desc
	revocations  prometheus.Desc
	telemetry    prometheus.Desc
	uptime       prometheus.Desc
}

// NewPrometheusExporter wraps m for registration with a
// prometheus.Registry.
func NewPrometheusExporter(m *Metrics) *PrometheusExporter {
	return &PrometheusExporter{
		metrics: m,
		ops: *prometheus.NewDesc(
			"ninedoor_ops_total", "Total dispatched requests.", nil, nil),
		backpressure: *prometheus.NewDesc(
			"ninedoor_backpressure_total", "Requests rejected for tag-window or queue-depth exhaustion.", nil, nil),
		revocations: *prometheus.NewDesc(
			"ninedoor_revocations_total", "Budget or kill revocations applied.", nil, nil),
		telemetry: *prometheus.NewDesc(
			"ninedoor_telemetry_bytes_total", "Bytes accepted by telemetry file writes.", nil, nil),
		uptime: *prometheus.NewDesc(
			"ninedoor_uptime_seconds", "Seconds since server start.", nil, nil),
	}
}

func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- &e.ops
	ch <- &e.backpressure
	ch <- &e.revocations
	ch <- &e.telemetry
	ch <- &e.uptime
}

func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.metrics.Snapshot()
	ch <- prometheus.MustNewConstMetric(&e.ops, prometheus.CounterValue, float64(snap.Ops))
	ch <- prometheus.MustNewConstMetric(&e.backpressure, prometheus.CounterValue, float64(snap.Backpressure))
	ch <- prometheus.MustNewConstMetric(&e.revocations, prometheus.CounterValue, float64(snap.Revocations))
	ch <- prometheus.MustNewConstMetric(&e.telemetry, prometheus.CounterValue, float64(snap.TelemetryBytes))
	ch <- prometheus.MustNewConstMetric(&e.uptime, prometheus.GaugeValue, float64(snap.UptimeNs)/1e9)
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)
