package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"platform"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"platform"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"platform"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"platform"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of pending jobs per platform queue",
		},
		[]string{"platform"},
	)

	SchedulerTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of scheduler control loop ticks",
		},
	)

	NodeExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_executions_total",
			Help: "Total number of workflow node executions by type and outcome",
		},
		[]string{"node_type", "outcome"},
	)
	NodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "node_execution_duration_seconds",
			Help:    "Workflow node execution duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"node_type"},
	)
)

var initMetricsOnce sync.Once

// InitMetrics registers all collectors. Safe to call from both the
// orchestrator and worker entry points.
func InitMetrics() {
	initMetricsOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(JobsEnqueuedTotal)
		prometheus.MustRegister(JobsProcessing)
		prometheus.MustRegister(JobsCompletedTotal)
		prometheus.MustRegister(JobsFailedTotal)
		prometheus.MustRegister(QueueDepth)
		prometheus.MustRegister(SchedulerTicksTotal)
		prometheus.MustRegister(NodeExecutionsTotal)
		prometheus.MustRegister(NodeDuration)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob records a job entering a platform queue.
func EnqueueJob(platform string) {
	JobsEnqueuedTotal.WithLabelValues(platform).Inc()
}

// StartProcessingJob records a job moving to running.
func StartProcessingJob(platform string) {
	JobsProcessing.WithLabelValues(platform).Inc()
}

// CompleteJob records a clean job finish.
func CompleteJob(platform string) {
	JobsProcessing.WithLabelValues(platform).Dec()
	JobsCompletedTotal.WithLabelValues(platform).Inc()
}

// FailJob records a failed or cancelled job finish.
func FailJob(platform string) {
	JobsProcessing.WithLabelValues(platform).Dec()
	JobsFailedTotal.WithLabelValues(platform).Inc()
}

// ObserveNode records one node execution.
func ObserveNode(nodeType string, ok bool, d time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	NodeExecutionsTotal.WithLabelValues(nodeType, outcome).Inc()
	NodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}
