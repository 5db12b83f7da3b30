package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the loader's Prometheus collectors. Each instance owns its
// registry so a batch run can dump it to a textfile when it finishes.
type Metrics struct {
	registry *prometheus.Registry

	Files        *prometheus.CounterVec
	Rows         *prometheus.CounterVec
	Diagnostics  *prometheus.CounterVec
	SinkRetries  prometheus.Counter
	FileDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Files: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smbload_files_total",
			Help: "Files handled by the loader by outcome",
		}, []string{"outcome"}), // valid, degraded, failed, skipped, sink_failed
		Rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smbload_rows_submitted_total",
			Help: "Rows committed to the sink by table",
		}, []string{"table"}),
		Diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smbload_diagnostics_total",
			Help: "Extraction diagnostics by kind",
		}, []string{"kind"}),
		SinkRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "smbload_sink_retries_total",
			Help: "Sink submissions retried after a failure",
		}),
		FileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smbload_file_duration_seconds",
			Help:    "Time to parse and submit one file",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFile(outcome string, d time.Duration) {
	if m != nil {
		m.Files.WithLabelValues(outcome).Inc()
		m.FileDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) AddRows(table string, n int) {
	if m != nil && n > 0 {
		m.Rows.WithLabelValues(table).Add(float64(n))
	}
}

func (m *Metrics) IncDiagnostic(kind string) {
	if m != nil {
		m.Diagnostics.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncSinkRetry() {
	if m != nil {
		m.SinkRetries.Inc()
	}
}

// WriteTextfile dumps all collectors in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
