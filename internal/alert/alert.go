// Package alert fans critical operational events out to registered
// handlers, independent of the structured logging pipeline. Grounded on the
// teacher's component-tagged logger.Logger, generalized into a small
// pub/sub-style dispatcher per spec.md §4.9.
package alert

import (
	"context"
	"sync"

	"github.com/jakekausler/campaign-scheduler/internal/logger"
)

// Severity classifies an alert's urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single alert occurrence.
type Event struct {
	Severity Severity
	Source   string
	Message  string
	Fields   map[string]interface{}
}

// Handler receives alert events. Handlers run concurrently and independently
// of one another; a slow or failing handler must not block the others.
type Handler func(ctx context.Context, ev Event)

var (
	mu       sync.RWMutex
	handlers = []Handler{defaultLogHandler}
)

// Register adds a handler to the dispatch list. Intended for startup wiring
// (e.g. a PagerDuty or Slack sink); the default structured-log handler is
// always present and cannot be removed.
func Register(h Handler) {
	mu.Lock()
	defer mu.Unlock()
	handlers = append(handlers, h)
}

// Reset clears all registered handlers back to just the default log
// handler. Exposed for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	handlers = []Handler{defaultLogHandler}
}

// Send dispatches ev to every registered handler in parallel and waits for
// all of them to return.
func Send(ctx context.Context, ev Event) {
	mu.RLock()
	snapshot := make([]Handler, len(handlers))
	copy(snapshot, handlers)
	mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range snapshot {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			h(ctx, ev)
		}()
	}
	wg.Wait()
}

// Critical is a convenience wrapper for the common case.
func Critical(ctx context.Context, source, message string, fields map[string]interface{}) {
	Send(ctx, Event{Severity: SeverityCritical, Source: source, Message: message, Fields: fields})
}

// Warning is a convenience wrapper for the common case.
func Warning(ctx context.Context, source, message string, fields map[string]interface{}) {
	Send(ctx, Event{Severity: SeverityWarning, Source: source, Message: message, Fields: fields})
}

func defaultLogHandler(ctx context.Context, ev Event) {
	log := logger.Default().WithComponent(logger.ComponentAlert)
	args := make([]interface{}, 0, 2+2*len(ev.Fields))
	args = append(args, "source", ev.Source)
	for k, v := range ev.Fields {
		args = append(args, k, v)
	}

	switch ev.Severity {
	case SeverityCritical:
		log.ErrorContext(ctx, ev.Message, args...)
	case SeverityWarning:
		log.WarnContext(ctx, ev.Message, args...)
	default:
		log.InfoContext(ctx, ev.Message, args...)
	}
}
