package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

// Metrics holds the job manager's Prometheus collectors
type Metrics struct {
	JobsCreated    *prometheus.CounterVec
	JobsFinished   *prometheus.CounterVec
	ItemsFinished  *prometheus.CounterVec
	JobDuration    prometheus.Histogram
	ActiveJobs     prometheus.Gauge
	RetentionSwept prometheus.Counter
	RetentionFreed prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg gets a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediafetch_jobs_created_total",
			Help: "Jobs created, by mode (collection or selective)",
		}, []string{"mode"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediafetch_jobs_finished_total",
			Help: "Jobs that reached a terminal status",
		}, []string{"status"}),
		ItemsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediafetch_items_finished_total",
			Help: "Selected items that finished a download attempt, by outcome",
		}, []string{"status"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediafetch_job_duration_seconds",
			Help:    "Wall time from job start to finalization",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mediafetch_active_jobs",
			Help: "Jobs currently executing",
		}),
		RetentionSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediafetch_retention_deleted_jobs_total",
			Help: "Jobs deleted by cleanup sweeps",
		}),
		RetentionFreed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediafetch_retention_freed_bytes_total",
			Help: "Bytes freed by cleanup sweeps",
		}),
	}
}

// RegisterLiveProcesses exposes the supervisor's live process count
func RegisterLiveProcesses(reg prometheus.Registerer, count func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mediafetch_live_processes",
		Help: "Download subprocesses currently running",
	}, func() float64 { return float64(count()) })
}

func (m *Metrics) jobCreated(selective bool) {
	if m == nil {
		return
	}
	mode := "collection"
	if selective {
		mode = "selective"
	}
	m.JobsCreated.WithLabelValues(mode).Inc()
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.ActiveJobs.Inc()
}

func (m *Metrics) jobStopped() {
	if m == nil {
		return
	}
	m.ActiveJobs.Dec()
}

func (m *Metrics) jobFinished(status domain.JobStatus, seconds float64) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(string(status)).Inc()
	m.JobDuration.Observe(seconds)
}

func (m *Metrics) itemFinished(status domain.ItemStatus) {
	if m == nil {
		return
	}
	m.ItemsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) swept(result CleanupResult) {
	if m == nil {
		return
	}
	m.RetentionSwept.Add(float64(result.DeletedCount))
	m.RetentionFreed.Add(float64(result.FreedBytes))
}
