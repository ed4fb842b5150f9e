package engine

import (
	"math"
	"sort"
	"time"

	"github.com/vigilstack/vigil-vmhealth/internal/models"
)

// DefaultNetworkCapacityMbps is assumed when deriving utilisation from raw
// throughput and no interface capacity is configured.
const DefaultNetworkCapacityMbps = 1000.0

// BuildWindow aligns per-metric sample series on the timestamps every series
// shares. Metrics with no samples are dropped rather than collapsing the
// intersection; duplicate timestamps within one series keep the last value.
func BuildWindow(seriesByMetric map[string][]models.Sample) models.MetricWindow {
	populated := make(map[string][]models.Sample, len(seriesByMetric))
	for metric, samples := range seriesByMetric {
		if len(samples) == 0 {
			continue
		}
		populated[metric] = samples
	}
	if len(populated) == 0 {
		return models.MetricWindow{Series: map[string][]float64{}}
	}

	valuesByMetric := make(map[string]map[int64]float64, len(populated))
	counts := make(map[int64]int)
	instants := make(map[int64]time.Time)
	for metric, samples := range populated {
		byTime := make(map[int64]float64, len(samples))
		for _, s := range samples {
			key := s.Timestamp.UnixNano()
			if _, seen := byTime[key]; !seen {
				counts[key]++
				instants[key] = s.Timestamp
			}
			byTime[key] = s.Value
		}
		valuesByMetric[metric] = byTime
	}

	shared := make([]int64, 0, len(counts))
	for key, n := range counts {
		if n == len(populated) {
			shared = append(shared, key)
		}
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i] < shared[j] })

	window := models.MetricWindow{
		Timestamps: make([]time.Time, 0, len(shared)),
		Series:     make(map[string][]float64, len(populated)),
	}
	for _, key := range shared {
		window.Timestamps = append(window.Timestamps, instants[key])
	}
	for metric, byTime := range valuesByMetric {
		values := make([]float64, 0, len(shared))
		for _, key := range shared {
			values = append(values, byTime[key])
		}
		window.Series[metric] = values
	}
	return window
}

// DeriveNetworkUsage fills in network_usage_percent from raw throughput when
// the window carries network_in_mbps but no utilisation series. Existing
// utilisation series are left untouched.
func DeriveNetworkUsage(window models.MetricWindow, capacityMbps float64) models.MetricWindow {
	if capacityMbps <= 0 {
		capacityMbps = DefaultNetworkCapacityMbps
	}
	if _, ok := window.Series[models.MetricNetworkUsagePercent]; ok {
		return window
	}
	raw, ok := window.Series[models.MetricNetworkInMbps]
	if !ok {
		return window
	}

	derived := make([]float64, len(raw))
	for i, v := range raw {
		derived[i] = v / capacityMbps * 100
	}
	window.Series[models.MetricNetworkUsagePercent] = derived
	return window
}

// SummarizeWindow computes per-metric aggregates over the window.
func SummarizeWindow(window models.MetricWindow) map[string]models.MetricSummary {
	summaries := make(map[string]models.MetricSummary, len(window.Series))
	for metric, values := range window.Series {
		if len(values) == 0 {
			continue
		}

		sum := 0.0
		minValue, maxValue := values[0], values[0]
		for _, v := range values {
			sum += v
			if v < minValue {
				minValue = v
			}
			if v > maxValue {
				maxValue = v
			}
		}
		mean := sum / float64(len(values))

		variance := 0.0
		for _, v := range values {
			variance += math.Pow(v-mean, 2)
		}
		variance /= float64(len(values))

		summaries[metric] = models.MetricSummary{
			Count:  len(values),
			Mean:   mean,
			Max:    maxValue,
			Min:    minValue,
			StdDev: math.Sqrt(variance),
		}
	}
	return summaries
}
