package importer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	submitTotal  *prometheus.CounterVec
	rowsTotal    *prometheus.CounterVec
	batchesTotal *prometheus.CounterVec

	jobDuration *prometheus.HistogramVec

	activeWorkers prometheus.Gauge
	queueDepth    prometheus.Gauge
	brokerUp      prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		submitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseimport",
			Name:      "submit_total",
			Help:      "Total number of job submissions by result.",
		}, []string{"result"}),
		rowsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseimport",
			Name:      "rows_total",
			Help:      "Total number of processed rows by outcome.",
		}, []string{"outcome"}),
		batchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseimport",
			Name:      "batches_total",
			Help:      "Total number of finalized batches by status.",
		}, []string{"status"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "caseimport",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of import jobs.",
			Buckets: []float64{
				0.1, 0.5,
				1, 5, 10, 30,
				60, 300, 900, 1800,
			},
		}, []string{"status"}),
		activeWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "caseimport",
			Name:      "active_workers",
			Help:      "Workers currently processing a job.",
		}),
		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "caseimport",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the queue at the last stats query.",
		}),
		brokerUp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "caseimport",
			Name:      "broker_connected",
			Help:      "Whether the job broker is connected (1/0).",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
