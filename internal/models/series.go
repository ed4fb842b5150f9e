package models

import "time"

// Canonical metric keys used across rules, windows and reports. The store
// client translates these to the collector's wire names on the way out.
const (
	MetricCPUUsage            = "cpu_usage"
	MetricMemoryUsage         = "memory_usage"
	MetricCPUReadySummation   = "cpu_ready_summation"
	MetricDiskLatency         = "disk_latency"
	MetricNetworkInMbps       = "network_in_mbps"
	MetricNetworkUsagePercent = "network_usage_percent"
)

// Sample is one observed value of a metric on an entity.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// TimeRange bounds a query or analysis window. Both ends are inclusive.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// MetricWindow holds per-metric value series aligned on a shared timestamp
// axis: Series[m][i] was observed at Timestamps[i] for every metric m.
type MetricWindow struct {
	Timestamps []time.Time
	Series     map[string][]float64
}

// Len returns the number of aligned sample points in the window.
func (w MetricWindow) Len() int {
	return len(w.Timestamps)
}

// MetricSummary aggregates one metric series over a window.
type MetricSummary struct {
	Count  int
	Mean   float64
	Max    float64
	Min    float64
	StdDev float64
}
