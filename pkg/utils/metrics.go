package utils

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsCollector holds the run metrics of one invocation. The CLI is
// short lived, so metrics are flushed to a node_exporter textfile instead of
// being scraped.
type MetricsCollector struct {
	registry  *prometheus.Registry
	namespace string

	findings  *prometheus.GaugeVec
	statuses  *prometheus.GaugeVec
	ambiguous prometheus.Gauge
	malformed prometheus.Counter
	reports   *prometheus.CounterVec
	stages    *prometheus.HistogramVec
	lastRun   prometheus.Gauge
	histDepth prometheus.Gauge
	mu        sync.Mutex
}

func NewMetricsCollector(namespace string, enableRuntimeMetrics bool) *MetricsCollector {
	if namespace == "" {
		namespace = "vulnlynx"
	}
	reg := prometheus.NewRegistry()
	if enableRuntimeMetrics {
		reg.MustRegister(collectors.NewGoCollector())
	}

	m := &MetricsCollector{
		registry:  reg,
		namespace: namespace,
		findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "findings",
			Help: "Findings of the current scan by priority.",
		}, []string{"priority"}),
		statuses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "findings_status",
			Help: "Findings of the current scan by lifecycle status.",
		}, []string{"status"}),
		ambiguous: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ambiguous_keys",
			Help: "Identity keys that matched more than one baseline finding.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "malformed_cells_total",
			Help: "Numeric cells that could not be parsed and were read as zero.",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "report_files_total",
			Help: "Report files written by format.",
		}, []string{"format"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time of the last completed run.",
		}),
		histDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "history_depth",
			Help: "Number of previous scans in the resolved chain.",
		}),
	}
	reg.MustRegister(m.findings, m.statuses, m.ambiguous, m.malformed, m.reports, m.stages, m.lastRun, m.histDepth)
	return m
}

func (m *MetricsCollector) SetFindings(byPriority, byStatus map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings.Reset()
	for p, n := range byPriority {
		m.findings.WithLabelValues(p).Set(float64(n))
	}
	m.statuses.Reset()
	for s, n := range byStatus {
		m.statuses.WithLabelValues(s).Set(float64(n))
	}
}

func (m *MetricsCollector) SetAmbiguous(n int)    { m.ambiguous.Set(float64(n)) }
func (m *MetricsCollector) SetHistoryDepth(n int) { m.histDepth.Set(float64(n)) }

func (m *MetricsCollector) AddMalformed(n int) {
	if n > 0 {
		m.malformed.Add(float64(n))
	}
}

func (m *MetricsCollector) AddReportFiles(format string, n int) {
	m.reports.WithLabelValues(format).Add(float64(n))
}

func (m *MetricsCollector) ObserveStage(stage string, d time.Duration) {
	m.stages.WithLabelValues(stage).Observe(d.Seconds())
}

// TimeStage runs fn and records its duration under stage.
func (m *MetricsCollector) TimeStage(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.ObserveStage(stage, time.Since(start))
	return err
}

func (m *MetricsCollector) MarkRun() {
	m.lastRun.SetToCurrentTime()
}

// WriteTextfile flushes the registry in the node_exporter textfile format.
func (m *MetricsCollector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
