// Package metrics provides Prometheus metrics for the protofold pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager holds all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Job lifecycle
	jobsSubmitted prometheus.Counter
	jobsRejected  prometheus.Counter
	jobsDuplicate prometheus.Counter
	jobsByStatus  *prometheus.CounterVec
	jobsInFlight  prometheus.Gauge

	// Per-stage timing and retries
	stageDuration *prometheus.HistogramVec
	stageRetries  *prometheus.CounterVec

	// Search and alignment
	searchHits       prometheus.Histogram
	hitsDiscarded    prometheus.Counter
	lowEvidenceJobs  prometheus.Counter
	msaRowsSelected  prometheus.Histogram

	// Ensemble and relaxation
	memberFailures  prometheus.Counter
	relaxOutcomes   *prometheus.CounterVec
	relaxIterations prometheus.Histogram

	// GPU admission
	gpuBudgetBytes  prometheus.Gauge
	gpuInUseBytes   prometheus.Gauge
	gpuWaiters      prometheus.Gauge
	gpuAdmitLatency prometheus.Histogram
	gpuRejections   prometheus.Counter

	// Queue and workers
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueues    prometheus.Counter
	queueEnqueueErrs prometheus.Counter
	queueDequeues    prometheus.Counter
	workerActive     prometheus.Gauge
	workerErrors     prometheus.Counter
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "protofold",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // metric registration is one long block
	auto := promauto.With(m.registry)

	m.jobsSubmitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "jobs_submitted_total",
		Help:      "Total number of jobs accepted at submission",
	})

	m.jobsRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "jobs_rejected_total",
		Help:      "Total number of submissions rejected as invalid input",
	})

	m.jobsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "jobs_duplicate_total",
		Help:      "Total number of duplicate submissions answered with an existing job",
	})

	m.jobsByStatus = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "jobs_terminal_total",
			Help:      "Total number of jobs per terminal status",
		},
		[]string{"status"},
	)

	m.jobsInFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "jobs_in_flight",
		Help:      "Number of jobs currently queued or running",
	})

	m.stageDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each pipeline stage",
			Buckets:   m.histogramBuckets,
		},
		[]string{"stage"},
	)

	m.stageRetries = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "stage_retries_total",
			Help:      "Total number of stage re-entries under the retry policy",
		},
		[]string{"stage"},
	)

	m.searchHits = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "search_hits",
		Help:      "Number of homology search hits returned per job",
		Buckets:   []float64{0, 1, 4, 16, 64, 256, 1024},
	})

	m.hitsDiscarded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "hits_discarded_total",
		Help:      "Total number of hits discarded by coverage filtering and deduplication",
	})

	m.lowEvidenceJobs = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "low_evidence_jobs_total",
		Help:      "Total number of jobs that proceeded with a query-only MSA",
	})

	m.msaRowsSelected = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "msa_rows_selected",
		Help:      "Number of MSA rows selected per job including the query row",
		Buckets:   []float64{1, 2, 8, 32, 128, 512},
	})

	m.memberFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ensemble_member_failures_total",
		Help:      "Total number of ensemble member failures absorbed at the ensemble boundary",
	})

	m.relaxOutcomes = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "relax_outcomes_total",
			Help:      "Total relaxation outcomes by convergence status or failure",
		},
		[]string{"outcome"},
	)

	m.relaxIterations = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "relax_iterations",
		Help:      "Iterations consumed per relaxation run",
		Buckets:   []float64{10, 50, 100, 500, 1000, 5000},
	})

	m.gpuBudgetBytes = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "gpu_budget_bytes",
		Help:      "Configured GPU memory budget in bytes",
	})

	m.gpuInUseBytes = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "gpu_in_use_bytes",
		Help:      "GPU memory currently admitted in bytes",
	})

	m.gpuWaiters = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "gpu_waiters",
		Help:      "Number of admission requests blocked on the GPU budget",
	})

	m.gpuAdmitLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "gpu_admit_latency_seconds",
		Help:      "Time spent waiting for GPU budget admission",
		Buckets:   m.histogramBuckets,
	})

	m.gpuRejections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "gpu_rejections_total",
		Help:      "Total number of admission requests that exceeded the maximum wait",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the submission queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum submission queue capacity",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization_ratio",
		Help:      "Queue utilization ratio (current size / capacity)",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Total number of submissions enqueued",
	})

	m.queueEnqueueErrs = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total number of enqueue errors",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Total number of submissions dequeued",
	})

	m.workerActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_active_count",
		Help:      "Number of active pipeline workers",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total number of worker errors",
	})
}

// Package-level helpers against the global manager.

// RecordJobSubmitted increments the accepted-submission counter.
func RecordJobSubmitted() {
	globalManager.jobsSubmitted.Inc()
}

// RecordJobRejected increments the invalid-input counter.
func RecordJobRejected() {
	globalManager.jobsRejected.Inc()
}

// RecordJobDuplicate increments the duplicate-submission counter.
func RecordJobDuplicate() {
	globalManager.jobsDuplicate.Inc()
}

// RecordJobTerminal records a job reaching a terminal status.
func RecordJobTerminal(status string) {
	globalManager.jobsByStatus.WithLabelValues(status).Inc()
}

// UpdateJobsInFlight sets the in-flight job gauge.
func UpdateJobsInFlight(n int) {
	globalManager.jobsInFlight.Set(float64(n))
}

// RecordStageDuration records the wall-clock duration of one stage run.
func RecordStageDuration(stage string, seconds float64) {
	globalManager.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordStageRetry records a stage re-entry.
func RecordStageRetry(stage string) {
	globalManager.stageRetries.WithLabelValues(stage).Inc()
}

// RecordSearchHits records the hit count of one search.
func RecordSearchHits(n int) {
	globalManager.searchHits.Observe(float64(n))
}

// RecordHitsDiscarded adds to the discarded-hit counter.
func RecordHitsDiscarded(n int) {
	globalManager.hitsDiscarded.Add(float64(n))
}

// RecordLowEvidenceJob counts a job that proceeded with a query-only MSA.
func RecordLowEvidenceJob() {
	globalManager.lowEvidenceJobs.Inc()
}

// RecordMSARows records the selected row count of one alignment.
func RecordMSARows(n int) {
	globalManager.msaRowsSelected.Observe(float64(n))
}

// RecordMemberFailure counts one absorbed ensemble member failure.
func RecordMemberFailure() {
	globalManager.memberFailures.Inc()
}

// RecordRelaxOutcome counts a relaxation outcome
// ("converged", "iteration_limit" or "unstable").
func RecordRelaxOutcome(outcome string) {
	globalManager.relaxOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRelaxIterations records iterations consumed by one relaxation run.
func RecordRelaxIterations(n int) {
	globalManager.relaxIterations.Observe(float64(n))
}

// UpdateGPUBudget sets the configured GPU budget gauge.
func UpdateGPUBudget(bytes uint64) {
	globalManager.gpuBudgetBytes.Set(float64(bytes))
}

// UpdateGPUInUse sets the admitted GPU memory gauge.
func UpdateGPUInUse(bytes uint64) {
	globalManager.gpuInUseBytes.Set(float64(bytes))
}

// UpdateGPUWaiters sets the blocked-admission gauge.
func UpdateGPUWaiters(n int) {
	globalManager.gpuWaiters.Set(float64(n))
}

// RecordGPUAdmitLatency records time spent waiting for admission.
func RecordGPUAdmitLatency(seconds float64) {
	globalManager.gpuAdmitLatency.Observe(seconds)
}

// RecordGPURejection counts an admission request that exceeded max wait.
func RecordGPURejection() {
	globalManager.gpuRejections.Inc()
}

// UpdateQueueSize sets the queue size gauge.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization gauge.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue counts a successful enqueue.
func RecordQueueEnqueue() {
	globalManager.queueEnqueues.Inc()
}

// RecordQueueEnqueueError counts a failed enqueue.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrs.Inc()
}

// RecordQueueDequeue counts a dequeue.
func RecordQueueDequeue() {
	globalManager.queueDequeues.Inc()
}

// UpdateWorkerActiveCount sets the active worker gauge.
func UpdateWorkerActiveCount(n int) {
	globalManager.workerActive.Set(float64(n))
}

// RecordWorkerError counts a worker error.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// GetRegistry returns the custom registry for exposition.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
