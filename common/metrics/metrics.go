package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "safesleep"

// Metrics 遥测服务指标
type Metrics struct {
	registry *prometheus.Registry

	IngestMessages    *prometheus.CounterVec
	ReadingsWritten   *prometheus.CounterVec
	Alarms            *prometheus.CounterVec
	ReconcileDispatch *prometheus.CounterVec
	SpectralVerdicts  *prometheus.CounterVec
	HandlerErrors     prometheus.Counter
	LoopErrors        *prometheus.CounterVec
}

// NewMetrics 创建指标并注册到独立的 Registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		IngestMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "messages_total",
				Help:      "Inbound telemetry messages by device class and result",
			},
			[]string{"class", "result"},
		),
		ReadingsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readings_written_total",
				Help:      "Readings appended to the data table",
			},
			[]string{"name"},
		),
		Alarms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarms_total",
				Help:      "Threshold alarms published",
			},
			[]string{"metric"},
		),
		ReconcileDispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "dispatch_total",
				Help:      "Commands dispatched by the reconciliation loop",
			},
			[]string{"mode", "result"},
		),
		SpectralVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "spectral",
				Name:      "verdicts_total",
				Help:      "Vibration anomaly verdicts",
			},
			[]string{"verdict"},
		),
		HandlerErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "MQTT handler errors and recovered panics",
			},
		),
		LoopErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_errors_total",
				Help:      "Failed periodic iterations by loop and error class",
			},
			[]string{"loop", "class"},
		),
	}

	m.registry.MustRegister(
		m.IngestMessages,
		m.ReadingsWritten,
		m.Alarms,
		m.ReconcileDispatch,
		m.SpectralVerdicts,
		m.HandlerErrors,
		m.LoopErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry 返回底层 Prometheus Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
