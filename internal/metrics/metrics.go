// Package metrics exposes the orchestrator's Prometheus metrics on a
// private registry.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	once     sync.Once

	sagasStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagas_started_total",
			Help: "Total number of sagas started.",
		},
		[]string{"template"},
	)
	sagasFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagas_finished_total",
			Help: "Total number of sagas that reached a terminal state.",
		},
		[]string{"template", "status"},
	)
	stepLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Duration of forward step execution calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	stepRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_step_retries_total",
		Help: "Total number of step retry attempts.",
	})
	compensationsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_compensations_failed_total",
		Help: "Total number of compensation calls that failed.",
	})
	sagasRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sagas_recovered_total",
		Help: "Total number of stuck sagas re-driven by the recovery sweep.",
	})
)

// Init registers metrics with the registry once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			sagasStarted,
			sagasFinished,
			stepLatency,
			stepRetries,
			compensationsFailed,
			sagasRecovered,
		)
	})
}

// Handler exposes the Prometheus metrics endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncSagasStarted counts a saga start for a template.
func IncSagasStarted(template string) {
	Init()
	sagasStarted.WithLabelValues(template).Inc()
}

// IncSagasFinished counts a terminal saga by template and final status.
func IncSagasFinished(template, status string) {
	Init()
	sagasFinished.WithLabelValues(template, status).Inc()
}

// ObserveStepLatency records one forward-call duration per target service.
func ObserveStepLatency(service string, d time.Duration) {
	Init()
	stepLatency.WithLabelValues(service).Observe(d.Seconds())
}

// IncStepRetries counts one retry attempt.
func IncStepRetries() {
	Init()
	stepRetries.Inc()
}

// IncCompensationsFailed counts one failed compensation call.
func IncCompensationsFailed() {
	Init()
	compensationsFailed.Inc()
}

// IncSagasRecovered counts one stuck saga re-driven by recovery.
func IncSagasRecovered() {
	Init()
	sagasRecovered.Inc()
}
