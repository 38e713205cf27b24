package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reorder"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Reorder jobs by result (done, empty, failed, cancelled, dlq)",
		},
		[]string{"result"},
	)

	filesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files renamed by kind (partitioned, excluded)",
		},
		[]string{"kind"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of reorder jobs",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream and dlq",
		},
		[]string{"type"},
	)
)

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{jobsTotal, filesTotal, jobDuration, queueDepth}
}

// Init registers collectors with the default registry.
func Init() {
	prometheus.MustRegister(Collectors()...)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

// ObserveJob records one finished job.
func ObserveJob(result string, dur time.Duration) {
	jobsTotal.WithLabelValues(result).Inc()
	jobDuration.Observe(dur.Seconds())
}

func AddFiles(partitioned, excluded int) {
	filesTotal.WithLabelValues("partitioned").Add(float64(partitioned))
	filesTotal.WithLabelValues("excluded").Add(float64(excluded))
}

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
