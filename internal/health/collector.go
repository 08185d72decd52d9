package health

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

// statusValue encodes Status as a gauge value: 2=healthy, 1=degraded,
// 0=unhealthy, per spec.md §4.8.
func statusValue(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// componentStatusValue encodes ComponentStatus with the same 2/1/0 scale.
func componentStatusValue(s ComponentStatus) float64 {
	switch s {
	case ComponentUp:
		return 2
	case ComponentDegraded:
		return 1
	default:
		return 0
	}
}

var queueStateDescs = map[string]*prometheus.Desc{
	"active":    prometheus.NewDesc("scheduler_queue_active", "Jobs currently being processed.", nil, nil),
	"waiting":   prometheus.NewDesc("scheduler_queue_waiting", "Jobs ready to run.", nil, nil),
	"completed": prometheus.NewDesc("scheduler_queue_completed", "Jobs completed successfully.", nil, nil),
	"failed":    prometheus.NewDesc("scheduler_queue_failed", "Jobs that exhausted their retries.", nil, nil),
	"delayed":   prometheus.NewDesc("scheduler_queue_delayed", "Jobs scheduled for a future readyAt.", nil, nil),
}

var (
	deadLetterDesc = prometheus.NewDesc(
		"scheduler_dead_letter_count", "Number of jobs retained in the dead-letter queue.",
		nil, nil)
	healthStatusDesc = prometheus.NewDesc(
		"scheduler_health_status", "Overall service health (2=healthy, 1=degraded, 0=unhealthy).",
		nil, nil)
	componentStatusDesc = prometheus.NewDesc(
		"scheduler_component_status", "Per-component health (2=healthy, 1=degraded, 0=unhealthy).",
		[]string{"component"}, nil)
	uptimeDesc = prometheus.NewDesc(
		"scheduler_uptime_seconds", "Seconds since the process started.",
		nil, nil)
	cpuUsageDesc = prometheus.NewDesc(
		"process_cpu_usage_percent", "Process CPU usage as a percentage of one core.",
		nil, nil)
	memUsageDesc = prometheus.NewDesc(
		"process_memory_usage_bytes", "Process memory usage by kind.",
		[]string{"type"}, nil)
)

// Collector implements prometheus.Collector, computing every metric fresh
// on each scrape from the live status surface rather than through
// periodically-updated gauges.
type Collector struct {
	checker   *Checker
	startTime time.Time

	proc     procfs.Proc
	procOK   bool
	lastCPU  float64
	lastTime time.Time
}

// NewCollector builds a Collector bound to checker, reporting uptime
// relative to startTime.
func NewCollector(checker *Checker, startTime time.Time) *Collector {
	c := &Collector{checker: checker, startTime: startTime, lastTime: time.Now()}
	if proc, err := procfs.Self(); err == nil {
		c.proc = proc
		c.procOK = true
		if stat, err := proc.Stat(); err == nil {
			c.lastCPU = stat.CPUTime()
		}
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range queueStateDescs {
		ch <- d
	}
	ch <- deadLetterDesc
	ch <- healthStatusDesc
	ch <- componentStatusDesc
	ch <- uptimeDesc
	ch <- cpuUsageDesc
	ch <- memUsageDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	report := c.checker.Check(ctx)

	for state, desc := range queueStateDescs {
		if count, ok := report.QueueCounts[state]; ok {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(count))
		}
	}
	ch <- prometheus.MustNewConstMetric(deadLetterDesc, prometheus.GaugeValue, float64(report.DeadLetterCount))
	ch <- prometheus.MustNewConstMetric(healthStatusDesc, prometheus.GaugeValue, statusValue(report.Status))
	for name, comp := range report.Components {
		ch <- prometheus.MustNewConstMetric(componentStatusDesc, prometheus.GaugeValue, componentStatusValue(comp.Status), name)
	}
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())

	cpuPercent, rss := c.processStats()
	ch <- prometheus.MustNewConstMetric(cpuUsageDesc, prometheus.GaugeValue, cpuPercent)
	ch <- prometheus.MustNewConstMetric(memUsageDesc, prometheus.GaugeValue, float64(rss), "rss")

	// Go has no direct equivalent of Node's heapUsed/heapTotal/external
	// split; runtime.MemStats' heap_alloc and heap_sys are the closest
	// idiomatic stand-ins.
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	ch <- prometheus.MustNewConstMetric(memUsageDesc, prometheus.GaugeValue, float64(mem.HeapAlloc), "heap_alloc")
	ch <- prometheus.MustNewConstMetric(memUsageDesc, prometheus.GaugeValue, float64(mem.HeapSys), "heap_sys")
}

// processStats samples this process's CPU time and resident memory via
// procfs, reporting CPU as a percentage of one core averaged over the
// interval since the previous scrape.
func (c *Collector) processStats() (cpuPercent float64, rss int) {
	if !c.procOK {
		return 0, 0
	}

	stat, err := c.proc.Stat()
	if err != nil {
		return 0, 0
	}

	now := time.Now()
	elapsed := now.Sub(c.lastTime).Seconds()
	cpu := stat.CPUTime()
	if elapsed > 0 {
		cpuPercent = ((cpu - c.lastCPU) / elapsed) * 100
	}
	c.lastCPU = cpu
	c.lastTime = now

	return cpuPercent, stat.ResidentMemory()
}
