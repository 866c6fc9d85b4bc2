package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	tasksExecuted      *prometheus.CounterVec
	taskRetries        prometheus.Counter
	workflowDuration   *prometheus.HistogramVec
	taskDuration       *prometheus.HistogramVec
	activeExecutions   prometheus.Gauge
	queueDepth         prometheus.Gauge
	runningTasks       prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector. Metrics are
// registered on the default registry.
func NewCollector() *Collector {
	return &Collector{
		workflowsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orcha_workflows_started_total",
				Help: "Total number of workflow executions started",
			},
			[]string{"mode"},
		),
		workflowsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orcha_workflows_completed_total",
				Help: "Total number of workflow executions finished",
			},
			[]string{"status"},
		),
		tasksExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orcha_tasks_executed_total",
				Help: "Total number of task executions",
			},
			[]string{"status"},
		),
		taskRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orcha_task_retries_total",
				Help: "Total number of task retry attempts",
			},
		),
		workflowDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orcha_workflow_duration_seconds",
				Help:    "Workflow execution duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		taskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orcha_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		activeExecutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orcha_active_executions",
				Help: "Number of currently active workflow executions",
			},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orcha_queue_depth",
				Help: "Current depth of the scheduler task queue",
			},
		),
		runningTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orcha_running_tasks",
				Help: "Number of tasks currently running in the scheduler",
			},
		),
	}
}

// RecordWorkflowStarted counts a workflow execution start by mode.
func (c *Collector) RecordWorkflowStarted(mode string) {
	c.workflowsStarted.WithLabelValues(mode).Inc()
}

// RecordWorkflowCompleted counts a finished execution and records its duration.
func (c *Collector) RecordWorkflowCompleted(status string, duration time.Duration) {
	c.workflowsCompleted.WithLabelValues(status).Inc()
	c.workflowDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTaskExecuted counts a task execution and records its duration.
func (c *Collector) RecordTaskExecuted(status string, duration time.Duration) {
	c.tasksExecuted.WithLabelValues(status).Inc()
	c.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTaskRetried counts a task retry attempt.
func (c *Collector) RecordTaskRetried() {
	c.taskRetries.Inc()
}

// SetActiveExecutions sets the number of currently active executions.
func (c *Collector) SetActiveExecutions(count int) {
	c.activeExecutions.Set(float64(count))
}

// SetQueueDepth sets the current scheduler queue depth.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// SetRunningTasks sets the number of tasks the scheduler is running.
func (c *Collector) SetRunningTasks(count int) {
	c.runningTasks.Set(float64(count))
}
