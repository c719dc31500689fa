package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestScheduleMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewScheduleMetrics(reg)
	m.ObserveOperation("create", "ok", 0.2)
	m.ObserveOperation("cancel", "error", 0.1)
	m.SetCollectionSize(12)
}

func TestScheduleMetricsNilSafe(t *testing.T) {
	var m *ScheduleMetrics
	m.ObserveOperation("create", "ok", 0.2)
	m.SetCollectionSize(3)
}
