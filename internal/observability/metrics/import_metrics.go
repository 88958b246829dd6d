package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config labels every series with the service and environment.
type Config struct {
	ServiceName string
	Environment string
}

const (
	RunOutcomeSuccess = "success"
	RunOutcomeFailed  = "failed"
	RunOutcomeSkipped = "skipped"

	DayOutcomeCompleted = "completed"
	DayOutcomeFailed    = "failed"

	DirectionIngress      = "ingress"
	DirectionEgress       = "egress"
	DirectionUnattributed = "unattributed"
)

// ImportMetrics captures the health of the daily usage import.
type ImportMetrics struct {
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	days              *prometheus.CounterVec
	dayDuration       prometheus.Histogram
	pendingDays       prometheus.Gauge
	recordsScanned    prometheus.Counter
	recordsAttributed *prometheus.CounterVec
	bytesAttributed   *prometheus.CounterVec
	hostsCreated      prometheus.Counter
	entriesWritten    prometheus.Counter
	errors            *prometheus.CounterVec
	watermark         prometheus.Gauge
	lastSuccess       prometheus.Gauge
}

// NewImportMetrics registers the import collectors on registerer.
func NewImportMetrics(registerer prometheus.Registerer, cfg Config) *ImportMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pmacctstats"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &ImportMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pmacctstats_import_runs_total",
			Help:        "Import runs by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "pmacctstats_import_run_duration_seconds",
			Help:        "Wall time of a whole import run.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
			ConstLabels: constLabels,
		}),
		days: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pmacctstats_import_days_total",
			Help:        "Days processed by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		dayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "pmacctstats_import_day_duration_seconds",
			Help:        "Aggregate and persist latency for one day.",
			Buckets:     []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			ConstLabels: constLabels,
		}),
		pendingDays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pmacctstats_import_pending_days",
			Help:        "Days found pending at the start of the last run.",
			ConstLabels: constLabels,
		}),
		recordsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pmacctstats_flow_records_scanned_total",
			Help:        "Flow records read from the source store.",
			ConstLabels: constLabels,
		}),
		recordsAttributed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pmacctstats_flow_records_attributed_total",
			Help:        "Flow records by attribution direction.",
			ConstLabels: constLabels,
		}, []string{"direction"}),
		bytesAttributed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pmacctstats_flow_bytes_attributed_total",
			Help:        "Bytes attributed to local hosts by direction.",
			ConstLabels: constLabels,
		}, []string{"direction"}),
		hostsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pmacctstats_hosts_created_total",
			Help:        "Host identities created on first sighting.",
			ConstLabels: constLabels,
		}),
		entriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "pmacctstats_usage_entries_written_total",
			Help:        "Usage entries committed.",
			ConstLabels: constLabels,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "pmacctstats_import_errors_total",
			Help:        "Import errors by stage and low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"stage", "reason"}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pmacctstats_import_watermark_timestamp_seconds",
			Help:        "Latest imported day as a unix timestamp.",
			ConstLabels: constLabels,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "pmacctstats_import_last_success_timestamp_seconds",
			Help:        "Completion time of the last successful run.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.runs,
		m.runDuration,
		m.days,
		m.dayDuration,
		m.pendingDays,
		m.recordsScanned,
		m.recordsAttributed,
		m.bytesAttributed,
		m.hostsCreated,
		m.entriesWritten,
		m.errors,
		m.watermark,
		m.lastSuccess,
	)
	return m
}

// ObserveRun records a finished run.
func (m *ImportMetrics) ObserveRun(outcome string, duration time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if outcome == RunOutcomeSkipped {
		return
	}
	m.runDuration.Observe(duration.Seconds())
	if outcome == RunOutcomeSuccess {
		m.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// ObserveDay records one processed day.
func (m *ImportMetrics) ObserveDay(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.days.WithLabelValues(outcome).Inc()
	m.dayDuration.Observe(duration.Seconds())
}

func (m *ImportMetrics) SetPendingDays(n int) {
	if m == nil {
		return
	}
	m.pendingDays.Set(float64(n))
}

// SetWatermark exports the latest imported day.
func (m *ImportMetrics) SetWatermark(day time.Time) {
	if m == nil {
		return
	}
	m.watermark.Set(float64(day.Unix()))
}

// AddFlowStats accounts for one aggregated day.
func (m *ImportMetrics) AddFlowStats(records, ingress, egress, unattributed int, bytesIn, bytesOut uint64) {
	if m == nil {
		return
	}
	m.recordsScanned.Add(float64(records))
	m.recordsAttributed.WithLabelValues(DirectionIngress).Add(float64(ingress))
	m.recordsAttributed.WithLabelValues(DirectionEgress).Add(float64(egress))
	m.recordsAttributed.WithLabelValues(DirectionUnattributed).Add(float64(unattributed))
	m.bytesAttributed.WithLabelValues(DirectionIngress).Add(float64(bytesIn))
	m.bytesAttributed.WithLabelValues(DirectionEgress).Add(float64(bytesOut))
}

// AddPersisted accounts for committed rows.
func (m *ImportMetrics) AddPersisted(entries, hostsCreated int) {
	if m == nil {
		return
	}
	if entries > 0 {
		m.entriesWritten.Add(float64(entries))
	}
	if hostsCreated > 0 {
		m.hostsCreated.Add(float64(hostsCreated))
	}
}

// IncError increments the error counter with a classified reason.
func (m *ImportMetrics) IncError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(stage, ClassifyErrorReason(err)).Inc()
}
