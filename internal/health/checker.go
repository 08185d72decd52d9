package health

import (
	"context"
	"sync"
	"time"
)

// Report is a single point-in-time snapshot of the service's health,
// serialized directly as the /health response body.
type Report struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds float64                    `json:"uptimeSeconds"`
	Components    map[string]ComponentReport `json:"components"`

	QueueCounts     map[string]int64 `json:"-"`
	DeadLetterCount int64            `json:"-"`
}

// QueueStats is the slice of *queue.RedisQueue the checker reads raw
// counts from for the metrics surfaces.
type QueueStats interface {
	QueueCounter
	DeadLetterCount(ctx context.Context) (int64, error)
}

// Checker runs every registered probe and rolls the results up into a
// Report. It also holds the queue reference directly so the metrics
// exposition can report raw counts without re-running every probe.
type Checker struct {
	probes    []Probe
	queue     QueueStats
	startTime time.Time
	version   string
}

// NewChecker builds a Checker. version is surfaced verbatim in Report.
func NewChecker(probes []Probe, queue QueueStats, startTime time.Time, version string) *Checker {
	return &Checker{probes: probes, queue: queue, startTime: startTime, version: version}
}

// Check runs all probes concurrently, per spec.md §4.8, and returns the
// combined Report.
func (c *Checker) Check(ctx context.Context) Report {
	components := make(map[string]ComponentReport, len(c.probes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			status, message := runProbe(ctx, p)
			report := ComponentReport{Status: status, Message: message, LastChecked: time.Now()}

			mu.Lock()
			components[p.Name()] = report
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	report := Report{
		Status:        overallFrom(components),
		Timestamp:     time.Now(),
		Version:       c.version,
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Components:    components,
	}

	if c.queue != nil {
		counts := make(map[string]int64, 5)
		for _, state := range []string{"active", "waiting", "completed", "failed", "delayed"} {
			if n, err := c.queue.Count(ctx, state); err == nil {
				counts[state] = n
			}
		}
		report.QueueCounts = counts

		if n, err := c.queue.DeadLetterCount(ctx); err == nil {
			report.DeadLetterCount = n
		}
	}

	return report
}
