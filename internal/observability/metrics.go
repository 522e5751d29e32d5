package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	sweepDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Workflow metrics
	WorkflowStartsTotal      *prometheus.CounterVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	WorkflowActiveInstances  *prometheus.GaugeVec
	TaskTransitionsTotal     *prometheus.CounterVec
	TaskCompletionDuration   *prometheus.HistogramVec

	// Assignment metrics
	AssignmentsTotal       *prometheus.CounterVec
	AssignmentMissesTotal  *prometheus.CounterVec
	AssignmentOverCapacity prometheus.Counter

	// Nudge metrics
	NudgesScheduledTotal *prometheus.CounterVec
	NudgesSentTotal      *prometheus.CounterVec
	NudgesFailedTotal    prometheus.Counter
	NudgeSweepDuration   prometheus.Histogram

	// System metrics
	TemplateReloadTotal *prometheus.CounterVec
	TemplatesLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflows
		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_workflow_starts_total",
			Help: "Total number of workflow instance starts.",
		}, []string{"template_id"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_workflow_completions_total",
			Help: "Total number of workflow instance completions.",
		}, []string{"template_id", "final_status"}),
		WorkflowActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulse_workflow_active_instances",
			Help: "Number of active workflow instances.",
		}, []string{"template_id"}),
		TaskTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_task_transitions_total",
			Help: "Total number of task status transitions.",
		}, []string{"to_status"}),
		TaskCompletionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_task_completion_duration_hours",
			Help:    "Hours between task start and completion.",
			Buckets: []float64{1, 4, 8, 24, 48, 120, 240},
		}, []string{"role"}),

		// Assignments
		AssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_assignments_total",
			Help: "Total number of automatic task assignments.",
		}, []string{"role"}),
		AssignmentMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_assignment_misses_total",
			Help: "Total number of tasks left unassigned for lack of a candidate.",
		}, []string{"role"}),
		AssignmentOverCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_assignment_over_capacity_total",
			Help: "Total assignments made to users already past weekly capacity.",
		}),

		// Nudges
		NudgesScheduledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_nudges_scheduled_total",
			Help: "Total number of nudges persisted by the scheduler.",
		}, []string{"trigger"}),
		NudgesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_nudges_sent_total",
			Help: "Total number of nudges delivered.",
		}, []string{"channel"}),
		NudgesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_nudges_failed_total",
			Help: "Total number of nudge delivery failures.",
		}),
		NudgeSweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_nudge_sweep_duration_seconds",
			Help:    "Duration of a due-nudge dispatch sweep in seconds.",
			Buckets: sweepDurationBuckets,
		}),

		// System
		TemplateReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_template_reload_total",
			Help: "Total workflow template reloads.",
		}, []string{"status"}),
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_templates_loaded",
			Help: "Number of published workflow templates in the registry.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Workflows
		m.WorkflowStartsTotal,
		m.WorkflowCompletionsTotal,
		m.WorkflowActiveInstances,
		m.TaskTransitionsTotal,
		m.TaskCompletionDuration,
		// Assignments
		m.AssignmentsTotal,
		m.AssignmentMissesTotal,
		m.AssignmentOverCapacity,
		// Nudges
		m.NudgesScheduledTotal,
		m.NudgesSentTotal,
		m.NudgesFailedTotal,
		m.NudgeSweepDuration,
		// System
		m.TemplateReloadTotal,
		m.TemplatesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordWorkflowStart records a workflow instance start.
func (m *Metrics) RecordWorkflowStart(templateID string) {
	m.WorkflowStartsTotal.WithLabelValues(templateID).Inc()
	m.WorkflowActiveInstances.WithLabelValues(templateID).Inc()
}

// RecordWorkflowCompletion records a workflow instance reaching a terminal status.
func (m *Metrics) RecordWorkflowCompletion(templateID, finalStatus string) {
	m.WorkflowCompletionsTotal.WithLabelValues(templateID, finalStatus).Inc()
	m.WorkflowActiveInstances.WithLabelValues(templateID).Dec()
}

// RecordTaskTransition records a task status transition.
func (m *Metrics) RecordTaskTransition(toStatus string) {
	m.TaskTransitionsTotal.WithLabelValues(toStatus).Inc()
}

// RecordTaskCompletion records the elapsed time of a completed task.
func (m *Metrics) RecordTaskCompletion(role string, elapsed time.Duration) {
	m.TaskCompletionDuration.WithLabelValues(role).Observe(elapsed.Hours())
}

// RecordAssignment records an automatic assignment for a role.
func (m *Metrics) RecordAssignment(role string) {
	m.AssignmentsTotal.WithLabelValues(role).Inc()
}

// RecordAssignmentMiss records a task left unassigned.
func (m *Metrics) RecordAssignmentMiss(role string) {
	m.AssignmentMissesTotal.WithLabelValues(role).Inc()
}

// RecordNudgeScheduled records a persisted nudge.
func (m *Metrics) RecordNudgeScheduled(trigger string) {
	m.NudgesScheduledTotal.WithLabelValues(trigger).Inc()
}

// RecordTemplateReload records a template reload attempt.
func (m *Metrics) RecordTemplateReload(status string) {
	m.TemplateReloadTotal.WithLabelValues(status).Inc()
}

// SetTemplatesLoaded sets the number of published templates.
func (m *Metrics) SetTemplatesLoaded(count float64) {
	m.TemplatesLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
