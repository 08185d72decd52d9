package health

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector_CollectEmitsExpectedMetricFamilies(t *testing.T) {
	checker := NewChecker(
		[]Probe{&fakeProbe{name: "redis", status: ComponentUp}},
		&fakeQueueStats{counts: map[string]int64{"active": 1, "waiting": 2, "completed": 3, "failed": 1, "delayed": 0}, deadLetter: 2},
		time.Now(),
		"test",
	)
	collector := NewCollector(checker, time.Now())

	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		t.Fatalf("failed to register collector: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"scheduler_queue_active",
		"scheduler_queue_waiting",
		"scheduler_queue_completed",
		"scheduler_queue_failed",
		"scheduler_queue_delayed",
		"scheduler_dead_letter_count",
		"scheduler_health_status",
		"scheduler_component_status",
		"scheduler_uptime_seconds",
		"process_cpu_usage_percent",
		"process_memory_usage_bytes",
	} {
		if !names[want] {
			t.Errorf("expected metric family %s to be present", want)
		}
	}
}

func TestStatusValue_Encoding(t *testing.T) {
	if statusValue(StatusHealthy) != 2 {
		t.Error("expected healthy to encode as 2")
	}
	if statusValue(StatusDegraded) != 1 {
		t.Error("expected degraded to encode as 1")
	}
	if statusValue(StatusUnhealthy) != 0 {
		t.Error("expected unhealthy to encode as 0")
	}
}

func TestComponentStatusValue_Encoding(t *testing.T) {
	if componentStatusValue(ComponentUp) != 2 {
		t.Error("expected up to encode as 2")
	}
	if componentStatusValue(ComponentDegraded) != 1 {
		t.Error("expected degraded to encode as 1")
	}
	if componentStatusValue(ComponentDown) != 0 {
		t.Error("expected down to encode as 0")
	}
}
