package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maskingSubsystem = "masking"

	jobsCreatedTotal  = "jobs_created_total"
	jobDispatchTotal  = "job_dispatch_total"
	jobCallbacksTotal = "job_callbacks_total"
	jobsReapedTotal   = "jobs_reaped_total"
	detectionsTotal   = "detections_total"
	droppedDetections = "detections_dropped_total"

	// Labels
	resultLabel     = "result"
	objectTypeLabel = "object_type"
)

// Dispatch results
const (
	DispatchSucceeded = "success"
	DispatchFailed    = "failure"
)

// Callback results
const (
	CallbackApplied   = "applied"
	CallbackOrphan    = "orphan"
	CallbackDuplicate = "duplicate"
	CallbackLate      = "late"
	CallbackError     = "error"
)

/**
* Metrics definition
**/
var jobsCreatedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: maskingSubsystem,
		Name:      jobsCreatedTotal,
		Help:      "number of jobs created by init-upload",
	},
)

var jobDispatchTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: maskingSubsystem,
		Name:      jobDispatchTotal,
		Help:      "number of dispatch attempts to the worker by result",
	},
	[]string{resultLabel},
)

var jobCallbacksTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: maskingSubsystem,
		Name:      jobCallbacksTotal,
		Help:      "number of worker callbacks received by outcome",
	},
	[]string{resultLabel},
)

var jobsReapedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: maskingSubsystem,
		Name:      jobsReapedTotal,
		Help:      "number of processing jobs failed after the processing timeout",
	},
)

var detectionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: maskingSubsystem,
		Name:      detectionsTotal,
		Help:      "number of detections stored by object type",
	},
	[]string{objectTypeLabel},
)

var droppedDetectionsMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: maskingSubsystem,
		Name:      droppedDetections,
		Help:      "number of detections dropped for a malformed bounding box",
	},
)

func IncreaseJobsCreatedMetric() {
	jobsCreatedTotalMetric.Inc()
}

func IncreaseJobDispatchMetric(result string) {
	jobDispatchTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func IncreaseJobCallbacksMetric(result string) {
	jobCallbacksTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func IncreaseJobsReapedMetric(count int) {
	jobsReapedTotalMetric.Add(float64(count))
}

func IncreaseDetectionsMetric(objectType string) {
	detectionsTotalMetric.With(prometheus.Labels{objectTypeLabel: objectType}).Inc()
}

func IncreaseDroppedDetectionsMetric() {
	droppedDetectionsMetric.Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsCreatedTotalMetric)
	prometheus.MustRegister(jobDispatchTotalMetric)
	prometheus.MustRegister(jobCallbacksTotalMetric)
	prometheus.MustRegister(jobsReapedTotalMetric)
	prometheus.MustRegister(detectionsTotalMetric)
	prometheus.MustRegister(droppedDetectionsMetric)
}

type PrometheusMetricsHandler struct {
	registry prometheus.Gatherer
}

func NewPrometheusMetricsHandler() *PrometheusMetricsHandler {
	return &PrometheusMetricsHandler{registry: prometheus.DefaultGatherer}
}

// Handler serves every collector of the default registry.
func (h *PrometheusMetricsHandler) Handler() http.Handler {
	return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
}
