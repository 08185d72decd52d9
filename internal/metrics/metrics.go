package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jakekausler/campaign-scheduler/internal/job"
)

// Collector tracks system-wide metrics in memory for the JSON /metrics
// surface. The text-exposition /metrics/prometheus surface is served by
// internal/health, which reads queue counts directly rather than through
// this collector.
var (
	globalCollector *Collector
	once            sync.Once
)

// Collector tracks system-wide metrics in memory
type Collector struct {
	totalJobsProcessed atomic.Int64
	totalJobsCompleted atomic.Int64
	totalJobsFailed    atomic.Int64
	totalJobsDeadLettered atomic.Int64

	mu             sync.RWMutex
	jobsByStatus   map[job.Status]int64
	jobsByPriority map[job.Priority]int64
	jobsByKind     map[job.Kind]int64
	totalDuration  time.Duration
	startTime      time.Time
	activeWorkers  int64
	totalWorkers   int64
	errorCount     int64
	operationCount int64
}

// Metrics represents a snapshot of current system metrics
type Metrics struct {
	TotalJobsProcessed    int64                 `json:"total_jobs_processed"`
	TotalJobsCompleted    int64                 `json:"total_jobs_completed"`
	TotalJobsFailed       int64                 `json:"total_jobs_failed"`
	TotalJobsDeadLettered int64                 `json:"total_jobs_dead_lettered"`
	JobsByStatus          map[job.Status]int64   `json:"jobs_by_status"`
	JobsByPriority        map[job.Priority]int64 `json:"jobs_by_priority"`
	JobsByKind            map[job.Kind]int64     `json:"jobs_by_kind"`
	AvgJobDuration        time.Duration          `json:"avg_job_duration"`
	WorkerUtilization     float64                `json:"worker_utilization"`
	ErrorRate             float64                `json:"error_rate"`
	Uptime                time.Duration          `json:"uptime"`
}

// Default returns the global metrics collector instance
func Default() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		jobsByStatus:   make(map[job.Status]int64),
		jobsByPriority: make(map[job.Priority]int64),
		jobsByKind:     make(map[job.Kind]int64),
		startTime:      time.Now(),
	}
}

// RecordJobStarted increments the jobs processed counter
func (c *Collector) RecordJobStarted(j *job.Job) {
	c.totalJobsProcessed.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByPriority[j.Priority]++
	c.jobsByKind[j.Kind]++
	c.jobsByStatus[job.StatusActive]++
}

// RecordJobCompleted records a successfully completed job
func (c *Collector) RecordJobCompleted(j *job.Job, duration time.Duration) {
	c.totalJobsCompleted.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByStatus[job.StatusActive]--
	c.jobsByStatus[job.StatusCompleted]++
	c.totalDuration += duration
	c.operationCount++
}

// RecordJobFailed records a failed job (retried or dead-lettered)
func (c *Collector) RecordJobFailed(j *job.Job, duration time.Duration, deadLettered bool) {
	c.totalJobsFailed.Add(1)
	if deadLettered {
		c.totalJobsDeadLettered.Add(1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByStatus[job.StatusActive]--
	c.jobsByStatus[job.StatusFailed]++
	c.totalDuration += duration
	c.operationCount++
	c.errorCount++
}

// RecordWorkerActivity updates worker utilization metrics
func (c *Collector) RecordWorkerActivity(active, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeWorkers = active
	c.totalWorkers = total
}

// GetMetrics returns a snapshot of current metrics
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobsByStatus := make(map[job.Status]int64, len(c.jobsByStatus))
	for k, v := range c.jobsByStatus {
		jobsByStatus[k] = v
	}
	jobsByPriority := make(map[job.Priority]int64, len(c.jobsByPriority))
	for k, v := range c.jobsByPriority {
		jobsByPriority[k] = v
	}
	jobsByKind := make(map[job.Kind]int64, len(c.jobsByKind))
	for k, v := range c.jobsByKind {
		jobsByKind[k] = v
	}

	var avgDuration time.Duration
	if c.operationCount > 0 {
		avgDuration = c.totalDuration / time.Duration(c.operationCount)
	}

	var utilization float64
	if c.totalWorkers > 0 {
		utilization = float64(c.activeWorkers) / float64(c.totalWorkers) * 100
	}

	var errorRate float64
	if c.operationCount > 0 {
		errorRate = float64(c.errorCount) / float64(c.operationCount) * 100
	}

	return Metrics{
		TotalJobsProcessed:    c.totalJobsProcessed.Load(),
		TotalJobsCompleted:    c.totalJobsCompleted.Load(),
		TotalJobsFailed:       c.totalJobsFailed.Load(),
		TotalJobsDeadLettered: c.totalJobsDeadLettered.Load(),
		JobsByStatus:          jobsByStatus,
		JobsByPriority:        jobsByPriority,
		JobsByKind:            jobsByKind,
		AvgJobDuration:        avgDuration,
		WorkerUtilization:     utilization,
		ErrorRate:             errorRate,
		Uptime:                time.Since(c.startTime),
	}
}

// Reset clears all metrics (useful for testing)
func (c *Collector) Reset() {
	c.totalJobsProcessed.Store(0)
	c.totalJobsCompleted.Store(0)
	c.totalJobsFailed.Store(0)
	c.totalJobsDeadLettered.Store(0)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByStatus = make(map[job.Status]int64)
	c.jobsByPriority = make(map[job.Priority]int64)
	c.jobsByKind = make(map[job.Kind]int64)
	c.totalDuration = 0
	c.startTime = time.Now()
	c.activeWorkers = 0
	c.totalWorkers = 0
	c.errorCount = 0
	c.operationCount = 0
}

// GetMetrics returns metrics from the global collector
func GetMetrics() Metrics {
	return Default().GetMetrics()
}

// ResetMetrics resets the global collector
func ResetMetrics() {
	Default().Reset()
}
